package source

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"spend-dashboard/internal/models"
)

// BigQuery reads a table through parametrised paged queries. BigQuery column
// names cannot contain dots, so the store's columns use the underscore form.
type BigQuery struct {
	client *bigquery.Client
	query  string
}

func NewBigQuery(ctx context.Context, project, dataset, table, orderBy string) (*BigQuery, error) {
	query, err := bigQueryStatement(project, dataset, table, orderBy)
	if err != nil {
		return nil, err
	}

	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	return &BigQuery{client: client, query: query}, nil
}

func bigQueryStatement(project, dataset, table, orderBy string) (string, error) {
	if project == "" || strings.ContainsAny(project, "`\\ ") {
		return "", fmt.Errorf("invalid project %q", project)
	}
	if err := checkIdentifier("dataset", dataset); err != nil {
		return "", err
	}
	if err := checkIdentifier("table", table); err != nil {
		return "", err
	}
	if err := checkIdentifier("column", orderBy); err != nil {
		return "", err
	}

	return fmt.Sprintf("SELECT * FROM `%s.%s.%s` ORDER BY `%s` LIMIT @limit OFFSET @offset",
		project, dataset, table, strings.ReplaceAll(orderBy, ".", "_")), nil
}

func (b *BigQuery) FetchPage(ctx context.Context, offset, limit int) ([]models.RawRecord, error) {
	q := b.client.Query(b.query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
		{Name: "offset", Value: offset},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery read: %w", err)
	}

	out := make([]models.RawRecord, 0, limit)
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery next: %w", err)
		}

		rec := make(models.RawRecord, len(row))
		for k, v := range row {
			rec[k] = v
		}
		out = append(out, rec)
	}
	return out, nil
}

func (b *BigQuery) Close() error {
	return b.client.Close()
}

package source

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"spend-dashboard/internal/models"
)

// Postgres reads a Supabase-style Postgres table. Rows are selected through
// row_to_json so column names such as "spend.amount" arrive unchanged.
type Postgres struct {
	db    *sql.DB
	query string
}

func NewPostgres(dsn, table, orderBy string) (*Postgres, error) {
	query, err := postgresStatement(table, orderBy)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &Postgres{db: db, query: query}, nil
}

func postgresStatement(table, orderBy string) (string, error) {
	if err := checkIdentifier("table", table); err != nil {
		return "", err
	}
	if err := checkIdentifier("column", orderBy); err != nil {
		return "", err
	}

	// a dotted table name is schema-qualified; a dotted column is one name
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}

	return fmt.Sprintf(`SELECT row_to_json(t) FROM %s AS t ORDER BY t.%s LIMIT $1 OFFSET $2`,
		strings.Join(parts, "."), pq.QuoteIdentifier(orderBy)), nil
}

func (p *Postgres) FetchPage(ctx context.Context, offset, limit int) ([]models.RawRecord, error) {
	rows, err := p.db.QueryContext(ctx, p.query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query postgres: %w", err)
	}
	defer rows.Close()

	out := make([]models.RawRecord, 0, limit)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan postgres row: %w", err)
		}
		rec, err := decodeJSONRow(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate postgres rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// decodeJSONRow keeps numbers as json.Number so integer minor units are not
// routed through float64.
func decodeJSONRow(raw []byte) (models.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var rec models.RawRecord
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return rec, nil
}

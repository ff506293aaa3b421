package source

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"

	"spend-dashboard/internal/models"
)

type ClickHouseOptions struct {
	Addr     []string
	Database string
	Username string
	Password string
	Table    string
	OrderBy  string
}

// ClickHouse reads a table whose columns keep the dotted store names.
type ClickHouse struct {
	conn  clickhouse.Conn
	query string
}

func NewClickHouse(opts ClickHouseOptions) (*ClickHouse, error) {
	query, err := clickHouseStatement(opts.Table, opts.OrderBy)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: opts.Addr,
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	return &ClickHouse{conn: conn, query: query}, nil
}

func clickHouseStatement(table, orderBy string) (string, error) {
	if err := checkIdentifier("table", table); err != nil {
		return "", err
	}
	if err := checkIdentifier("column", orderBy); err != nil {
		return "", err
	}

	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = "`" + p + "`"
	}
	return fmt.Sprintf("SELECT * FROM %s ORDER BY `%s` LIMIT ? OFFSET ?", strings.Join(parts, "."), orderBy), nil
}

func (c *ClickHouse) FetchPage(ctx context.Context, offset, limit int) ([]models.RawRecord, error) {
	rows, err := c.conn.Query(ctx, c.query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query clickhouse: %w", err)
	}
	defer rows.Close()

	columns := rows.Columns()
	types := rows.ColumnTypes()

	out := make([]models.RawRecord, 0, limit)
	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan clickhouse row: %w", err)
		}

		rec := make(models.RawRecord, len(columns))
		for i, name := range columns {
			rec[name] = deref(reflect.ValueOf(dest[i]).Elem())
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clickhouse rows: %w", err)
	}
	return out, nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}

// deref unwraps the pointers ClickHouse uses for Nullable columns.
func deref(v reflect.Value) any {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}
	return v.Interface()
}

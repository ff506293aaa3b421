package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"spend-dashboard/internal/models"
)

// CSV serves a local export. The header row carries the store's column names.
// The file is re-read on the first page of every fetch, so a re-exported file
// is picked up by the next refresh; later pages come from that read.
type CSV struct {
	path string

	mu   sync.Mutex
	rows []models.RawRecord
	read bool
}

func NewCSV(path string) *CSV {
	return &CSV{path: path}
}

func (c *CSV) FetchPage(ctx context.Context, offset, limit int) ([]models.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if offset == 0 || !c.read {
		rows, err := readCSV(c.path)
		if err != nil {
			return nil, err
		}
		c.rows, c.read = rows, true
	}

	if offset >= len(c.rows) {
		return []models.RawRecord{}, nil
	}
	end := min(offset+limit, len(c.rows))
	return c.rows[offset:end], nil
}

func (c *CSV) Close() error {
	return nil
}

func readCSV(path string) ([]models.RawRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []models.RawRecord
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		row := make(models.RawRecord, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Package table loads the input lead table and turns rows into work items.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoRows means the input file had no data rows to process.
var ErrNoRows = errors.New("input table has no rows")

// identifierColumns is the case-insensitive allow-list for the website
// column. First match wins; if none match, the first column is used.
var identifierColumns = []string{"website", "url", "domain", "site"}

// Item is one work item: the website identifier plus the row's remaining
// columns carried through opaquely to the output.
type Item struct {
	Identifier  string
	Passthrough map[string]string
}

// Read parses the input CSV. It returns items in file order, including rows
// with blank identifiers (the coordinator skips those explicitly so they are
// visible in run status). A missing header or empty file is fatal.
func Read(r io.Reader) ([]Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 {
		return nil, ErrNoRows
	}

	idIdx := identifierIndex(header)

	var items []Item
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		item := Item{Passthrough: make(map[string]string)}
		for i, col := range header {
			if i >= len(rec) {
				break
			}
			if i == idIdx {
				item.Identifier = strings.TrimSpace(rec[i])
				continue
			}
			name := strings.TrimSpace(col)
			if name == "" {
				continue
			}
			item.Passthrough[name] = rec[i]
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, ErrNoRows
	}
	return items, nil
}

func identifierIndex(header []string) int {
	for _, want := range identifierColumns {
		for i, col := range header {
			if strings.EqualFold(strings.TrimSpace(col), want) {
				return i
			}
		}
	}
	return 0
}

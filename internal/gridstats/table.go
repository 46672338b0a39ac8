// Package gridstats joins the per-cell NDVI and LST statistics table onto
// the analysis grid and styles each cell the way the raster overlay would.
package gridstats

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Column names in the published statistics table.
const (
	DefaultKeyColumn = "OBJECTID_1"
	NDVIColumn       = "MEDIAN"
	LSTColumn        = "MEAN_1"
)

// Row is one statistics record keyed by header name.
type Row map[string]string

// Table is the parsed statistics CSV indexed by trimmed key.
type Table struct {
	KeyColumn string
	Header    []string
	// Duplicates counts rows whose key was already present. The later row
	// replaced the earlier one.
	Duplicates int
	// Skipped counts rows with an empty key.
	Skipped int

	rows  map[string]Row
	order []string
}

// Options configures Parse.
type Options struct {
	KeyColumn string
	Logger    *zap.Logger
}

// Parse reads a header CSV. Rows without a key are skipped; on duplicate
// keys the last row wins.
func Parse(ctx context.Context, r io.Reader, opts Options) (*Table, error) {
	if opts.KeyColumn == "" {
		opts.KeyColumn = DefaultKeyColumn
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("gridstats: empty csv")
	}
	if err != nil {
		return nil, eris.Wrap(err, "gridstats: read header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := &Table{
		KeyColumn: opts.KeyColumn,
		Header:    header,
		rows:      make(map[string]Row),
	}

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "gridstats: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "gridstats: read line %d", line)
		}

		row := make(Row, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}

		key := strings.TrimSpace(row[opts.KeyColumn])
		if key == "" {
			t.Skipped++
			continue
		}
		if _, dup := t.rows[key]; dup {
			t.Duplicates++
			opts.Logger.Debug("duplicate grid stats key, keeping last row",
				zap.String("key", key), zap.Int("line", line))
		} else {
			t.order = append(t.order, key)
		}
		t.rows[key] = row
	}

	if t.Duplicates > 0 || t.Skipped > 0 {
		opts.Logger.Warn("grid stats table has unusable keys",
			zap.Int("duplicates", t.Duplicates),
			zap.Int("skipped", t.Skipped),
			zap.Int("rows", len(t.rows)))
	}
	return t, nil
}

// Lookup returns the row for a trimmed key.
func (t *Table) Lookup(key string) (Row, bool) {
	r, ok := t.rows[strings.TrimSpace(key)]
	return r, ok
}

// Len is the number of distinct keys.
func (t *Table) Len() int { return len(t.rows) }

// Keys returns the distinct keys in first-seen order.
func (t *Table) Keys() []string {
	return append([]string(nil), t.order...)
}

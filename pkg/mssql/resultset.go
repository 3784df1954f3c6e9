package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Rows is a streaming reader over one execution's result sets. It owns the
// underlying catalog handle: Close aborts any in-flight command, releases the
// handle and restores the caller's database context.
type Rows struct {
	rows    *sql.Rows
	cancel  context.CancelFunc
	release func() error
	closed  bool
}

// Columns returns the column names of the current result set.
func (r *Rows) Columns() ([]string, error) { return r.rows.Columns() }

// Next advances to the next row of the current result set.
func (r *Rows) Next() bool { return r.rows.Next() }

// NextResultSet advances to the next result set, if any.
func (r *Rows) NextResultSet() bool { return r.rows.NextResultSet() }

// Scan copies the current row into dest.
func (r *Rows) Scan(dest ...any) error { return r.rows.Scan(dest...) }

// Err returns the error, if any, seen during iteration.
func (r *Rows) Err() error { return r.rows.Err() }

// Close releases everything the reader owns. Safe to call more than once.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.rows.Close()
	if rerr := r.release(); err == nil {
		err = rerr
	}
	r.cancel()
	return err
}

// ReadText drains the reader into a tab-delimited buffer, one header line per
// result set and a blank line between result sets. maxRows <= 0 means
// unlimited. The returned count is rows rendered across all result sets.
func ReadText(r *Rows, maxRows int64) (string, int64, error) {
	var b strings.Builder
	var total int64

	for set := 0; ; set++ {
		cols, err := r.Columns()
		if err != nil {
			return "", total, fmt.Errorf("read columns: %w", err)
		}

		if len(cols) > 0 {
			if set > 0 {
				b.WriteString("\n")
			}
			b.WriteString(strings.Join(cols, "\t"))
			b.WriteString("\n")
		}

		scan := make([]any, len(cols))
		for i := range scan {
			scan[i] = new(any)
		}

		for r.Next() {
			if maxRows > 0 && total >= maxRows {
				break
			}
			if err := r.Scan(scan...); err != nil {
				return "", total, fmt.Errorf("scan row: %w", err)
			}
			for i, v := range scan {
				if i > 0 {
					b.WriteString("\t")
				}
				b.WriteString(renderValue(*v.(*any)))
			}
			b.WriteString("\n")
			total++
		}
		if err := r.Err(); err != nil {
			return "", total, err
		}

		if !r.NextResultSet() {
			break
		}
	}

	return strings.TrimRight(b.String(), "\n"), total, nil
}

// renderValue formats one scanned value for the text buffer. Timestamps
// render in ISO form, NULL renders literally, binary renders as hex.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return fmt.Sprintf("0x%X", val)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprintf("%v", val)
	}
}

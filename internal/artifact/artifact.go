// Package artifact reads and writes the tabular input and output files jobs
// operate on. CSV and XLSX are supported; the format is chosen by file
// extension.
package artifact

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is an in-memory tabular artifact. Rows may be ragged; the writer
// pads short rows to the header width.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Width returns the column count of the widest row, headers included.
func (t *Table) Width() int {
	w := len(t.Headers)
	for _, row := range t.Rows {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

// ReadTable loads a tabular file, dispatching on extension.
func ReadTable(path string) (*Table, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return readCSV(path)
	case ".xlsx":
		return readXLSX(path)
	default:
		return nil, eris.Errorf("artifact: unsupported file extension %q", ext)
	}
}

// WriteTable writes a tabular file, dispatching on extension.
func WriteTable(path string, table *Table) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return writeCSV(path, table)
	case ".xlsx":
		return writeXLSX(path, table)
	default:
		return eris.Errorf("artifact: unsupported file extension %q", ext)
	}
}

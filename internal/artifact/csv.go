package artifact

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// utf8BOM opens Excel exports cleanly; readers strip it, the writer emits it
// so Excel re-opens our output with the right encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "artifact: open csv")
	}
	defer f.Close()

	// Tolerate a UTF-8 BOM at the start of the stream.
	decoder := unicode.UTF8BOM.NewDecoder()
	reader := csv.NewReader(transform.NewReader(f, decoder))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var table Table
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "artifact: read csv row")
		}
		if first {
			first = false
			table.Headers = record
			continue
		}
		table.Rows = append(table.Rows, record)
	}
	if first {
		return nil, eris.New("artifact: csv file is empty")
	}
	return &table, nil
}

func writeCSV(path string, table *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "artifact: create csv")
	}
	defer f.Close()

	if _, err := f.Write(utf8BOM); err != nil {
		return eris.Wrap(err, "artifact: write bom")
	}

	w := csv.NewWriter(f)
	width := len(table.Headers)
	if err := w.Write(table.Headers); err != nil {
		return eris.Wrap(err, "artifact: write csv header")
	}
	for _, row := range table.Rows {
		if err := w.Write(padRow(row, width)); err != nil {
			return eris.Wrap(err, "artifact: write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "artifact: flush csv")
	}
	return eris.Wrap(f.Close(), "artifact: close csv")
}

func padRow(row []string, width int) []string {
	if len(row) >= width {
		return row
	}
	padded := make([]string, width)
	copy(padded, row)
	return padded
}

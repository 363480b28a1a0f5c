package artifact

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

func readXLSX(path string) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "artifact: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("artifact: xlsx file has no sheets")
	}
	sheet := f.Sheets[0]

	var table Table
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if i == 0 {
			table.Headers = cells
			continue
		}
		table.Rows = append(table.Rows, cells)
	}
	if table.Headers == nil {
		return nil, eris.New("artifact: xlsx sheet is empty")
	}
	return &table, nil
}

func writeXLSX(path string, table *Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	if err != nil {
		return eris.Wrap(err, "artifact: add xlsx sheet")
	}

	width := len(table.Headers)
	headerRow := sheet.AddRow()
	for _, h := range table.Headers {
		headerRow.AddCell().Value = h
	}
	for _, row := range table.Rows {
		r := sheet.AddRow()
		for _, cell := range padRow(row, width) {
			r.AddCell().Value = cell
		}
	}

	return eris.Wrap(f.Save(path), "artifact: save xlsx")
}

package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/address-pipeline/internal/artifact"
	"github.com/sells-group/address-pipeline/internal/model"
	"github.com/sells-group/address-pipeline/internal/split"
	"github.com/sells-group/address-pipeline/internal/standardize"
)

const notifyTimeout = 30 * time.Second

// resultColumns are appended to the input table, after the provenance pair.
var resultColumns = []string{
	"standardized_address", "street_number", "street_name", "unit",
	"city", "state", "postal_code", "country",
	"confidence", "issues", "status", "source", "error",
}

// expandedRow is one address destined for the oracle. Its position in the
// expanded slice is the global index results are merged back by.
type expandedRow struct {
	source  int // index into the input table's rows
	address string
	part    int // 1-based part number when the source row was split, else 0
	total   int
}

// expandRows applies the splitting rules to every input row. A row that
// splits contributes one expanded row per candidate; all others pass through
// unchanged. Input order is preserved.
func expandRows(table *artifact.Table, addrCol, secCol int) []expandedRow {
	var expanded []expandedRow
	for i, row := range table.Rows {
		addr := cellAt(row, addrCol)
		var sec string
		if secCol >= 0 {
			sec = cellAt(row, secCol)
		}

		decision := split.Decide(addr, sec)
		if decision.ShouldSplit && len(decision.Candidates) > 1 {
			for k, cand := range decision.Candidates {
				expanded = append(expanded, expandedRow{
					source:  i,
					address: cand,
					part:    k + 1,
					total:   len(decision.Candidates),
				})
			}
			continue
		}
		expanded = append(expanded, expandedRow{source: i, address: addr})
	}
	return expanded
}

// mergeResults builds the output table: the original columns (with the
// address cell rewritten on split rows), provenance columns, one block of
// result columns, and the comparison pair when compare mode ran. Rows line
// up with expanded by global index.
func mergeResults(table *artifact.Table, expanded []expandedRow, results []model.StandardizedResult, comparisons []standardize.Comparison, addrCol int) *artifact.Table {
	headers := append([]string{}, table.Headers...)
	headers = append(headers, "split_from_row", "split_part")
	headers = append(headers, resultColumns...)
	if comparisons != nil {
		headers = append(headers, "compare_match", "compare_reason")
	}

	out := &artifact.Table{Headers: headers}
	for gi, er := range expanded {
		row := make([]string, len(table.Headers))
		copy(row, table.Rows[er.source])
		if er.total > 0 && addrCol < len(row) {
			row[addrCol] = er.address
		}

		if er.total > 0 {
			row = append(row, strconv.Itoa(er.source+1), fmt.Sprintf("%d of %d", er.part, er.total))
		} else {
			row = append(row, "", "")
		}

		r := results[gi]
		row = append(row,
			r.FormattedAddress,
			r.Components.StreetNumber, r.Components.StreetName, r.Components.Unit,
			r.Components.City, r.Components.State, r.Components.PostalCode, r.Components.Country,
			string(r.Confidence), strings.Join(r.Issues, "; "), string(r.Status), string(r.Source), r.Error,
		)

		if comparisons != nil {
			c := comparisons[er.source]
			if c.Error != "" {
				row = append(row, "", c.Error)
			} else {
				row = append(row, strconv.FormatBool(c.Match), c.Reason)
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

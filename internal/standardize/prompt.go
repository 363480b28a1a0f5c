package standardize

import (
	"fmt"
	"strings"
)

// standardizeSystem instructs the oracle to return one JSON object per item,
// keyed by the batch-local input_index. The reconciliation layer rebias
// these indices onto global positions.
const standardizeSystem = `You are an address standardization service. For every numbered input line, produce one JSON object with these fields:
  input_index (integer, the input line number),
  formatted_address (string),
  street_number, street_name, unit, city, state, postal_code, country (strings, empty when unknown),
  confidence ("high", "medium", or "low"),
  issues (array of strings, empty when none),
  status ("success" or "partial").
Return ONLY a JSON array containing the objects, with no surrounding text.`

// compareSystem instructs the oracle to judge whether each numbered pair of
// addresses refers to the same physical location.
const compareSystem = `You are an address comparison service. Each numbered input line holds two addresses separated by " ||| ". For every line, produce one JSON object with fields:
  input_index (integer, the input line number),
  match (boolean, true when both sides refer to the same physical address),
  reason (string, one short sentence).
Return ONLY a JSON array containing the objects, with no surrounding text.`

// batchUserContent renders items as numbered lines. The line format is part
// of the oracle contract; the offline stub parses it back.
func batchUserContent(items []string) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i, strings.TrimSpace(item))
	}
	return b.String()
}

// pairUserContent renders address pairs as numbered " ||| "-separated lines.
func pairUserContent(pairs [][2]string) string {
	var b strings.Builder
	for i, p := range pairs {
		fmt.Fprintf(&b, "%d. %s ||| %s\n", i, strings.TrimSpace(p[0]), strings.TrimSpace(p[1]))
	}
	return b.String()
}

package oracle

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// itemLineRe matches the "{index}. {text}" item lines the reconciliation
// layer puts in its user content.
var itemLineRe = regexp.MustCompile(`(?m)^(\d+)\.\s+(.+)$`)

// Stub is an offline oracle that echoes every submitted item back as a
// low-effort standardized object. It exists for --offline runs and tests;
// no network calls are made.
type Stub struct {
	usageCounter

	// Respond optionally overrides the canned response for a request.
	Respond func(system, user string) (string, bool)
}

func (s *Stub) Complete(_ context.Context, system, user string, _ int64) (string, error) {
	// Rough 4 bytes per token, same order of magnitude as the real tokenizer.
	s.add(int64(len(system)+len(user))/4, 0)

	if s.Respond != nil {
		if resp, ok := s.Respond(system, user); ok {
			s.add(0, int64(len(resp))/4)
			return resp, nil
		}
	}

	type stubResult struct {
		InputIndex       int      `json:"input_index"`
		FormattedAddress string   `json:"formatted_address"`
		StreetNumber     string   `json:"street_number,omitempty"`
		StreetName       string   `json:"street_name,omitempty"`
		Confidence       string   `json:"confidence"`
		Issues           []string `json:"issues"`
		Status           string   `json:"status"`
	}

	var results []stubResult
	for _, m := range itemLineRe.FindAllStringSubmatch(user, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		text := strings.TrimSpace(m[2])
		r := stubResult{
			InputIndex:       idx,
			FormattedAddress: text,
			Confidence:       "low",
			Issues:           []string{"offline stub result"},
			Status:           "success",
		}
		if fields := strings.Fields(text); len(fields) > 1 {
			if _, numErr := strconv.Atoi(strings.TrimRight(fields[0], "ABab")); numErr == nil {
				r.StreetNumber = fields[0]
				r.StreetName = strings.Join(fields[1:], " ")
			}
		}
		results = append(results, r)
	}

	out, err := json.Marshal(results)
	if err != nil {
		return "[]", nil
	}
	s.add(0, int64(len(out))/4)
	return string(out), nil
}

package standardize

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/address-pipeline/internal/model"
	"github.com/sells-group/address-pipeline/pkg/oracle"
)

// fastConfig keeps the fallback limiter out of the way in tests.
func fastConfig() Config {
	return Config{FallbackRPS: 10000}
}

func countItems(user string) int {
	n := 0
	for _, line := range strings.Split(user, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func TestStandardizeBatchCompleteness(t *testing.T) {
	s := New(&oracle.Stub{}, fastConfig())

	items := make([]string, 23)
	for i := range items {
		items[i] = fmt.Sprintf("%d Maple Ave", 100+i)
	}

	results := s.StandardizeBatch(context.Background(), items)
	require.Len(t, results, len(items))
	for i, r := range results {
		assert.Equal(t, i, r.GlobalIndex)
		assert.Equal(t, items[i], r.FormattedAddress)
		assert.Equal(t, model.ResultSuccess, r.Status)
		assert.Equal(t, model.SourceOracleBatch, r.Source)
		assert.NotNil(t, r.Issues)
	}
}

func TestStandardizeBatchRebiasAcrossBatches(t *testing.T) {
	// Batch size 5 forces three batches; the stub echoes local indices, so
	// any rebias mistake would scramble the mapping back to inputs.
	cfg := fastConfig()
	cfg.BatchSize = 5
	s := New(&oracle.Stub{}, cfg)

	items := []string{
		"1 First St", "2 Second St", "3 Third St", "4 Fourth St", "5 Fifth St",
		"6 Sixth St", "7 Seventh St", "8 Eighth St", "9 Ninth St", "10 Tenth St",
		"11 Eleventh St", "12 Twelfth St",
	}
	results := s.StandardizeBatch(context.Background(), items)
	require.Len(t, results, 12)
	for i, r := range results {
		assert.Equal(t, items[i], r.FormattedAddress, "position %d", i)
	}
}

func TestStandardizeBatchHalvesThenFallsBackPerItem(t *testing.T) {
	var mu sync.Mutex
	var callSizes []int

	stub := &oracle.Stub{
		Respond: func(_, user string) (string, bool) {
			n := countItems(user)
			mu.Lock()
			callSizes = append(callSizes, n)
			mu.Unlock()
			if n > 1 {
				return "this is not json", true
			}
			return "", false // default stub handles singles
		},
	}
	cfg := fastConfig()
	cfg.BatchSize = 10
	s := New(stub, cfg)

	items := []string{"1 A St", "2 B St", "3 C St", "4 D St", "5 E St", "6 F St"}
	results := s.StandardizeBatch(context.Background(), items)

	require.Len(t, results, 6)
	for i, r := range results {
		assert.Equal(t, items[i], r.FormattedAddress)
		assert.Equal(t, model.SourceFallback, r.Source)
	}
	// Full batch, two halves, then one call per item.
	assert.Equal(t, []int{6, 3, 3, 1, 1, 1, 1, 1, 1}, callSizes)
}

func TestStandardizeBatchBackfillsSkippedItems(t *testing.T) {
	stub := &oracle.Stub{
		Respond: func(_, user string) (string, bool) {
			if countItems(user) != 3 {
				return "", false
			}
			// The oracle silently drops item 1.
			return `[
				{"input_index": 0, "formatted_address": "10 Oak St", "confidence": "high", "status": "success"},
				{"input_index": 2, "formatted_address": "30 Elm St", "confidence": "high", "status": "success"}
			]`, true
		},
	}
	s := New(stub, fastConfig())

	results := s.StandardizeBatch(context.Background(), []string{"10 Oak St", "20 Pine St", "30 Elm St"})
	require.Len(t, results, 3)
	assert.Equal(t, model.SourceOracleBatch, results[0].Source)
	assert.Equal(t, model.SourceFallback, results[1].Source)
	assert.Equal(t, "20 Pine St", results[1].FormattedAddress)
	assert.Equal(t, model.SourceOracleBatch, results[2].Source)
}

func TestStandardizeBatchRecoversTruncatedResponse(t *testing.T) {
	stub := &oracle.Stub{
		Respond: func(_, user string) (string, bool) {
			if countItems(user) != 3 {
				return "", false
			}
			// Cut off mid-way through the third object.
			return `[
				{"input_index": 0, "formatted_address": "1 Bay Rd", "status": "success", "confidence": "high"},
				{"input_index": 1, "formatted_address": "2 Bay Rd", "status": "success", "confidence": "high"},
				{"input_index": 2, "formatted_addr`, true
		},
	}
	s := New(stub, fastConfig())

	results := s.StandardizeBatch(context.Background(), []string{"1 Bay Rd", "2 Bay Rd", "3 Bay Rd"})
	require.Len(t, results, 3)
	assert.Equal(t, model.SourceOracleBatch, results[0].Source)
	assert.Equal(t, model.SourceOracleBatch, results[1].Source)
	assert.Equal(t, model.SourceFallback, results[2].Source)
	assert.Equal(t, "3 Bay Rd", results[2].FormattedAddress)
}

type failingClient struct {
	err error
}

func (f *failingClient) Complete(context.Context, string, string, int64) (string, error) {
	return "", f.err
}

func TestStandardizeBatchOracleFailureYieldsErrorResults(t *testing.T) {
	s := New(&failingClient{err: eris.New("oracle down")}, fastConfig())

	results := s.StandardizeBatch(context.Background(), []string{"1 A St", "2 B St", "3 C St"})
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.GlobalIndex)
		assert.Equal(t, model.ResultError, r.Status)
		assert.NotEmpty(t, r.Error)
		assert.NotNil(t, r.Issues)
	}
}

func TestStandardizeBatchEmptyInput(t *testing.T) {
	s := New(&oracle.Stub{}, fastConfig())
	results := s.StandardizeBatch(context.Background(), nil)
	assert.Empty(t, results)
}

func TestStandardizeBatchAppliesCountryTemplate(t *testing.T) {
	stub := &oracle.Stub{
		Respond: func(_, _ string) (string, bool) {
			return `[{"input_index": 0, "formatted_address": "raw oracle text",
				"street_number": "123", "street_name": "Main St",
				"state": "MD", "postal_code": "21122",
				"confidence": "high", "status": "success"}]`, true
		},
	}
	cfg := fastConfig()
	cfg.Country = "US"
	s := New(stub, cfg)

	results := s.StandardizeBatch(context.Background(), []string{"123 main street md 21122"})
	require.Len(t, results, 1)
	// City and unit are empty; their separators collapse away.
	assert.Equal(t, "123 Main St, MD 21122", results[0].FormattedAddress)
}

func TestCompareBatch(t *testing.T) {
	stub := &oracle.Stub{
		Respond: func(system, user string) (string, bool) {
			if !strings.Contains(system, "comparison") {
				return "", false
			}
			n := countItems(user)
			var parts []string
			for i := 0; i < n; i++ {
				match := strings.Contains(user, fmt.Sprintf("%d. same", i))
				parts = append(parts, fmt.Sprintf(`{"input_index": %d, "match": %t, "reason": "checked"}`, i, match))
			}
			return "[" + strings.Join(parts, ",") + "]", true
		},
	}
	s := New(stub, fastConfig())

	pairs := [][2]string{
		{"same 1 Main St", "1 Main Street"},
		{"2 Oak Ave", "9 Birch Ln"},
		{"same 3 Elm St", "3 Elm St"},
	}
	results := s.CompareBatch(context.Background(), pairs)
	require.Len(t, results, 3)
	assert.True(t, results[0].Match)
	assert.False(t, results[1].Match)
	assert.True(t, results[2].Match)
	for i, r := range results {
		assert.Equal(t, i, r.GlobalIndex)
		assert.Empty(t, r.Error)
	}
}

func TestCompareBatchFallsBackPerPair(t *testing.T) {
	stub := &oracle.Stub{
		Respond: func(system, user string) (string, bool) {
			if !strings.Contains(system, "comparison") {
				return "", false
			}
			if countItems(user) > 1 {
				return "garbage", true
			}
			return `[{"input_index": 0, "match": true, "reason": "single"}]`, true
		},
	}
	s := New(stub, fastConfig())

	results := s.CompareBatch(context.Background(), [][2]string{
		{"1 A St", "1 A Street"},
		{"2 B St", "2 B Street"},
	})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Match)
		assert.Equal(t, "single", r.Reason)
	}
}

package standardize

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sells-group/address-pipeline/internal/jsonrepair"
	"github.com/sells-group/address-pipeline/internal/resilience"
)

// Comparison is the reconciled outcome for one address pair.
type Comparison struct {
	GlobalIndex int    `json:"global_index"`
	Match       bool   `json:"match"`
	Reason      string `json:"reason"`
	Error       string `json:"error,omitempty"`
}

type wireComparison struct {
	InputIndex int    `json:"input_index"`
	Match      bool   `json:"match"`
	Reason     string `json:"reason"`
}

// CompareBatch judges each pair for referential equality and returns one
// Comparison per pair, in input order. Pairs carry roughly twice the text of
// single addresses, so batches run at the smaller compare size.
func (s *Standardizer) CompareBatch(ctx context.Context, pairs [][2]string) []Comparison {
	results := make([]Comparison, len(pairs))
	covered := make([]bool, len(pairs))

	for off := 0; off < len(pairs); off += s.cfg.CompareBatchSize {
		end := off + s.cfg.CompareBatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		chunk := pairs[off:end]

		parsed, err := s.callCompare(ctx, chunk)
		if err != nil {
			s.log.Warn("batch comparison failed",
				zap.Int("offset", off),
				zap.Int("size", len(chunk)),
				zap.Error(err))
			for local := range chunk {
				s.compareSingle(ctx, chunk[local], off+local, results, covered)
			}
			continue
		}
		for local, w := range parsed {
			results[off+local] = Comparison{
				GlobalIndex: off + local,
				Match:       w.Match,
				Reason:      w.Reason,
			}
			covered[off+local] = true
		}
		for local := range chunk {
			if !covered[off+local] {
				s.compareSingle(ctx, chunk[local], off+local, results, covered)
			}
		}
	}
	return results
}

func (s *Standardizer) compareSingle(ctx context.Context, pair [2]string, globalIndex int, results []Comparison, covered []bool) {
	covered[globalIndex] = true
	if err := s.limiter.Wait(ctx); err != nil {
		results[globalIndex] = Comparison{GlobalIndex: globalIndex, Error: err.Error()}
		return
	}
	parsed, err := s.callCompare(ctx, [][2]string{pair})
	if err != nil {
		results[globalIndex] = Comparison{GlobalIndex: globalIndex, Error: err.Error()}
		return
	}
	w, ok := parsed[0]
	if !ok {
		results[globalIndex] = Comparison{GlobalIndex: globalIndex, Error: "oracle returned no result for pair"}
		return
	}
	results[globalIndex] = Comparison{GlobalIndex: globalIndex, Match: w.Match, Reason: w.Reason}
}

func (s *Standardizer) callCompare(ctx context.Context, chunk [][2]string) (map[int]wireComparison, error) {
	maxTokens := int64(len(chunk) * tokensPerItem)
	if maxTokens < minBatchTokens {
		maxTokens = minBatchTokens
	}
	user := pairUserContent(chunk)

	raw, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (string, error) {
		return s.client.Complete(ctx, compareSystem, user, maxTokens)
	})
	if err != nil {
		return nil, err
	}

	objects, _, err := jsonrepair.Repair(raw)
	if err != nil {
		return nil, err
	}
	parsed := make(map[int]wireComparison, len(objects))
	for _, obj := range objects {
		var w wireComparison
		if err := json.Unmarshal(obj, &w); err != nil {
			continue
		}
		if w.InputIndex < 0 || w.InputIndex >= len(chunk) {
			continue
		}
		if _, dup := parsed[w.InputIndex]; dup {
			continue
		}
		parsed[w.InputIndex] = w
	}
	return parsed, nil
}

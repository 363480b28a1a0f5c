// Package standardize reconciles raw address text against an external
// language-model oracle. Inputs are processed in fixed-size batches; malformed
// oracle output runs through a repair cascade, and batches that still fail
// decompose into halved sub-batches and finally rate-limited per-item calls.
// Every input position yields exactly one result.
package standardize

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/address-pipeline/internal/jsonrepair"
	"github.com/sells-group/address-pipeline/internal/model"
	"github.com/sells-group/address-pipeline/internal/resilience"
	"github.com/sells-group/address-pipeline/pkg/oracle"
)

const (
	// DefaultBatchSize balances token cost against the blast radius of a
	// malformed response.
	DefaultBatchSize = 10
	// DefaultCompareBatchSize is smaller because each item carries two
	// addresses.
	DefaultCompareBatchSize = 5

	// tokensPerItem sizes the completion budget for a batch.
	tokensPerItem  = 350
	minBatchTokens = 1024

	// defaultFallbackRPS paces per-item fallback calls so a poisoned batch
	// does not burst the upstream API.
	defaultFallbackRPS = 2
)

// Config tunes the reconciliation layer. Zero values take the defaults above.
type Config struct {
	BatchSize        int
	CompareBatchSize int
	Country          string
	Templates        map[string]string
	FallbackRPS      float64
}

// Standardizer drives oracle calls for a single job. It is safe for
// concurrent use; the fallback limiter is shared across batches.
type Standardizer struct {
	client  oracle.Client
	cfg     Config
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	log     *zap.Logger
}

func New(client oracle.Client, cfg Config) *Standardizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.CompareBatchSize <= 0 {
		cfg.CompareBatchSize = DefaultCompareBatchSize
	}
	if cfg.FallbackRPS <= 0 {
		cfg.FallbackRPS = defaultFallbackRPS
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("standardize", "oracle call")
	return &Standardizer{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.FallbackRPS), 1),
		retry:   retry,
		log:     zap.L().Named("standardize"),
	}
}

// wireResult mirrors the JSON objects the oracle is prompted to emit.
// input_index is local to the batch that produced it.
type wireResult struct {
	InputIndex       int      `json:"input_index"`
	FormattedAddress string   `json:"formatted_address"`
	StreetNumber     string   `json:"street_number"`
	StreetName       string   `json:"street_name"`
	Unit             string   `json:"unit"`
	City             string   `json:"city"`
	State            string   `json:"state"`
	PostalCode       string   `json:"postal_code"`
	Country          string   `json:"country"`
	Confidence       string   `json:"confidence"`
	Issues           []string `json:"issues"`
	Status           string   `json:"status"`
}

func (w wireResult) toResult(globalIndex int, source model.ResultSource) model.StandardizedResult {
	r := model.StandardizedResult{
		GlobalIndex:      globalIndex,
		FormattedAddress: strings.TrimSpace(w.FormattedAddress),
		Components: model.AddressComponents{
			StreetNumber: strings.TrimSpace(w.StreetNumber),
			StreetName:   strings.TrimSpace(w.StreetName),
			Unit:         strings.TrimSpace(w.Unit),
			City:         strings.TrimSpace(w.City),
			State:        strings.TrimSpace(w.State),
			PostalCode:   strings.TrimSpace(w.PostalCode),
			Country:      strings.TrimSpace(w.Country),
		},
		Confidence: model.Confidence(strings.ToLower(w.Confidence)),
		Issues:     w.Issues,
		Status:     model.ResultStatus(strings.ToLower(w.Status)),
		Source:     source,
	}
	return model.NormalizeResult(r)
}

// StandardizeBatch standardizes items and returns exactly one result per
// input position, in input order. Failures surface as error results, never as
// missing entries.
func (s *Standardizer) StandardizeBatch(ctx context.Context, items []string) []model.StandardizedResult {
	results := make([]model.StandardizedResult, len(items))
	covered := make([]bool, len(items))

	for off := 0; off < len(items); off += s.cfg.BatchSize {
		end := off + s.cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}
		s.reconcileChunk(ctx, items[off:end], off, results, covered, true)
	}

	for i := range results {
		if !covered[i] {
			// Defensive; reconcileChunk fills every position.
			results[i] = model.ErrorResult(i, "no result produced")
		}
		s.applyCountryFormat(&results[i])
	}
	return results
}

// reconcileChunk fills results[off:off+len(chunk)]. allowHalve permits one
// level of sub-batch decomposition before per-item fallback.
func (s *Standardizer) reconcileChunk(ctx context.Context, chunk []string, off int, results []model.StandardizedResult, covered []bool, allowHalve bool) {
	parsed, err := s.callBatch(ctx, chunk)
	if err == nil {
		for local, w := range parsed {
			results[off+local] = w.toResult(off+local, model.SourceOracleBatch)
			covered[off+local] = true
		}
		// Items the oracle skipped fall back individually.
		for local := range chunk {
			if !covered[off+local] {
				s.reconcileSingle(ctx, chunk[local], off+local, results, covered)
			}
		}
		return
	}

	s.log.Warn("batch standardization failed",
		zap.Int("offset", off),
		zap.Int("size", len(chunk)),
		zap.Bool("will_halve", allowHalve && len(chunk) > 1),
		zap.Error(err))

	if allowHalve && len(chunk) > 1 {
		mid := len(chunk) / 2
		s.reconcileChunk(ctx, chunk[:mid], off, results, covered, false)
		s.reconcileChunk(ctx, chunk[mid:], off+mid, results, covered, false)
		return
	}

	for local := range chunk {
		s.reconcileSingle(ctx, chunk[local], off+local, results, covered)
	}
}

// reconcileSingle issues a rate-limited per-item call. An unrecoverable
// failure becomes an error result so the position is never left empty.
func (s *Standardizer) reconcileSingle(ctx context.Context, text string, globalIndex int, results []model.StandardizedResult, covered []bool) {
	covered[globalIndex] = true
	if err := s.limiter.Wait(ctx); err != nil {
		results[globalIndex] = model.ErrorResult(globalIndex, err.Error())
		return
	}
	parsed, err := s.callBatch(ctx, []string{text})
	if err != nil {
		results[globalIndex] = model.ErrorResult(globalIndex, err.Error())
		return
	}
	w, ok := parsed[0]
	if !ok {
		results[globalIndex] = model.ErrorResult(globalIndex, "oracle returned no result for item")
		return
	}
	results[globalIndex] = w.toResult(globalIndex, model.SourceFallback)
}

// callBatch sends one oracle request for chunk and returns the parsed objects
// keyed by batch-local index. Out-of-range or duplicate indices are dropped;
// the caller backfills anything missing.
func (s *Standardizer) callBatch(ctx context.Context, chunk []string) (map[int]wireResult, error) {
	maxTokens := int64(len(chunk) * tokensPerItem)
	if maxTokens < minBatchTokens {
		maxTokens = minBatchTokens
	}
	user := batchUserContent(chunk)

	raw, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (string, error) {
		return s.client.Complete(ctx, standardizeSystem, user, maxTokens)
	})
	if err != nil {
		return nil, err
	}

	objects, strategy, err := jsonrepair.Repair(raw)
	if err != nil {
		return nil, err
	}
	if strategy != jsonrepair.StrategyDirect {
		s.log.Debug("repaired oracle response",
			zap.String("strategy", strategy),
			zap.Int("objects", len(objects)))
	}

	parsed := make(map[int]wireResult, len(objects))
	for _, obj := range objects {
		var w wireResult
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

func (s *Standardizer) applyCountryFormat(r *model.StandardizedResult) {
	if s.cfg.Country == "" || r.Status == model.ResultError {
		return
	}
	if formatted := FormatCountry(r.Components, s.cfg.Country, s.cfg.Templates); formatted != "" {
		r.FormattedAddress = formatted
	}
}

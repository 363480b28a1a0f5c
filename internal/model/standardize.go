package model

// Confidence is the oracle's self-reported certainty for one result.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ResultStatus classifies the outcome of standardizing one item.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultPartial ResultStatus = "partial"
	ResultError   ResultStatus = "error"
)

// ResultSource records which call path produced a result.
type ResultSource string

const (
	SourceOracle      ResultSource = "oracle"
	SourceOracleBatch ResultSource = "oracle_batch"
	SourceFallback    ResultSource = "fallback"
)

// BatchItem is the unit submitted to the standardization oracle. GlobalIndex
// is the item's stable position in the job-wide address list, independent of
// batch boundaries.
type BatchItem struct {
	GlobalIndex int    `json:"global_index"`
	Text        string `json:"text"`
}

// AddressComponents holds the structured parts of a standardized address.
// Absent components are empty strings after normalization.
type AddressComponents struct {
	StreetNumber string `json:"street_number,omitempty"`
	StreetName   string `json:"street_name,omitempty"`
	Unit         string `json:"unit,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country,omitempty"`
}

// StandardizedResult is the reconciled outcome for one BatchItem. Every
// submitted item yields exactly one result; error results are never dropped.
type StandardizedResult struct {
	GlobalIndex      int               `json:"global_index"`
	FormattedAddress string            `json:"formatted_address"`
	Components       AddressComponents `json:"components"`
	Confidence       Confidence        `json:"confidence"`
	Issues           []string          `json:"issues"`
	Status           ResultStatus      `json:"status"`
	Source           ResultSource      `json:"source"`
	Error            string            `json:"error,omitempty"`
}

// ErrorResult builds the placeholder result for an item whose standardization
// failed outright. It keeps the completeness invariant: one result per input.
func ErrorResult(globalIndex int, msg string) StandardizedResult {
	return StandardizedResult{
		GlobalIndex: globalIndex,
		Confidence:  ConfidenceLow,
		Issues:      []string{},
		Status:      ResultError,
		Source:      SourceFallback,
		Error:       msg,
	}
}

// NormalizeResult fills deterministic defaults at the reconciliation
// boundary: Issues is never nil, Confidence is a member of the closed enum,
// and Status falls back to partial when the oracle returned something
// unrecognized alongside a non-empty address.
func NormalizeResult(r StandardizedResult) StandardizedResult {
	if r.Issues == nil {
		r.Issues = []string{}
	}
	switch r.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		r.Confidence = ConfidenceLow
	}
	switch r.Status {
	case ResultSuccess, ResultPartial, ResultError:
	default:
		if r.FormattedAddress != "" {
			r.Status = ResultPartial
		} else {
			r.Status = ResultError
		}
	}
	return r
}

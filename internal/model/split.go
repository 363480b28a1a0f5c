package model

// SplitReason explains why the splitting engine did or did not split a field.
type SplitReason string

const (
	// No-split guards, in the priority order the engine evaluates them.
	ReasonNumericRange    SplitReason = "numeric_range"
	ReasonUnitDesignator  SplitReason = "unit_designator"
	ReasonDirectional     SplitReason = "directional"
	ReasonIntersection    SplitReason = "intersection"
	ReasonNoStreetNumber  SplitReason = "no_street_number"
	ReasonStructuralPunct SplitReason = "structural_punctuation"
	ReasonNoTrigger       SplitReason = "no_trigger"

	// Split triggers.
	ReasonConjunction SplitReason = "conjunction"
	ReasonNumberRun   SplitReason = "number_run"
)

// SplitDecision is the outcome of evaluating one raw address field. When
// ShouldSplit is false, Candidates holds exactly the original string; when
// true, it holds at least two non-empty reconstructed addresses in input
// order.
type SplitDecision struct {
	ShouldSplit bool        `json:"should_split"`
	Reason      SplitReason `json:"reason"`
	Candidates  []string    `json:"candidates"`
}

// Package split implements the rule-based engine that decides whether a raw
// address field encodes multiple physical addresses and reconstructs them.
// It makes no external calls and never fails on malformed input; the worst
// case is a no-split decision carrying the original string.
package split

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/address-pipeline/internal/model"
)

var (
	// rangeRe matches numeric range tokens like "211-245" or "12A-14B".
	rangeRe = regexp.MustCompile(`\b\d+[A-Za-z]?\s*-\s*\d+[A-Za-z]?\b`)

	// unitRe matches fractional/unit designators that mark a single address.
	unitRe = regexp.MustCompile(`(?i)\b(apartment|apt|suite|ste|unit|floor|flr|building|bldg|room|rm|lot)\b\.?|#\s*\d+|\b\d+\s+\d+/\d+\b`)

	// directionalRe matches quadrant, cross-street, and survey tokens.
	directionalRe = regexp.MustCompile(`(?i)\b(neq|nwq|seq|swq|nec|nwc|sec|swc|between|township|range|east of|west of|north of|south of|corner of)\b`)

	// routeRe matches highway/route designations including their number, so
	// stripping them removes the number along with the route word.
	routeRe = regexp.MustCompile(`(?i)\b(highway|hwy|route|rte|interstate|county\s+road|state\s+road|state\s+route|sr|cr|us|i)[\s.-]*\d+[A-Za-z]?\b`)

	// conjRe splits on coordinating conjunctions between addresses.
	conjRe = regexp.MustCompile(`(?i)\s+and\s+|\s*&\s*`)

	// bareNumberRe matches a segment that is nothing but a house number.
	bareNumberRe = regexp.MustCompile(`^\d+[A-Za-z]?$`)

	// streetNumberRe matches a standalone street number token.
	streetNumberRe = regexp.MustCompile(`\b\d+[A-Za-z]?\b`)

	// wordRe detects a street-name-bearing segment (any 3+ letter word).
	wordRe = regexp.MustCompile(`[A-Za-z]{3,}`)
)

// structuralPunct are characters that mark annotated single addresses;
// their presence overrides any split trigger.
const structuralPunct = "()[]{}:;"

// Decide evaluates one raw address field and, when it encodes multiple
// physical addresses, reconstructs them. The optional secondary field
// contributes its own conjunct segments when it also carries a conjunction.
func Decide(address, secondary string) model.SplitDecision {
	noSplit := func(reason model.SplitReason) model.SplitDecision {
		return model.SplitDecision{
			ShouldSplit: false,
			Reason:      reason,
			Candidates:  []string{address},
		}
	}

	addr := strings.TrimSpace(address)
	if addr == "" {
		return noSplit(model.ReasonNoTrigger)
	}

	// Do-not-split guards, in fixed priority order.
	if rangeRe.MatchString(addr) {
		return noSplit(model.ReasonNumericRange)
	}
	if unitRe.MatchString(addr) {
		return noSplit(model.ReasonUnitDesignator)
	}
	if directionalRe.MatchString(addr) {
		return noSplit(model.ReasonDirectional)
	}

	hasConjunction := conjRe.MatchString(addr)
	stripped := routeRe.ReplaceAllString(addr, "")

	if routeRe.MatchString(addr) {
		if hasConjunction && !streetNumberRe.MatchString(stripped) && hasShortConjunct(addr) {
			return noSplit(model.ReasonIntersection)
		}
		if !streetNumberRe.MatchString(stripped) {
			return noSplit(model.ReasonNoStreetNumber)
		}
	} else if !streetNumberRe.MatchString(addr) {
		return noSplit(model.ReasonNoStreetNumber)
	}

	// Split triggers.
	var trigger model.SplitReason
	switch {
	case hasConjunction:
		trigger = model.ReasonConjunction
	case hasNumberRun(addr):
		trigger = model.ReasonNumberRun
	default:
		return noSplit(model.ReasonNoTrigger)
	}

	// Structural punctuation marks an annotated single address and overrides
	// the trigger.
	if strings.ContainsAny(addr, structuralPunct) {
		return noSplit(model.ReasonStructuralPunct)
	}

	candidates := reconstruct(addr)
	candidates = append(candidates, secondarySegments(secondary)...)

	if len(candidates) < 2 {
		return noSplit(trigger)
	}

	return model.SplitDecision{
		ShouldSplit: true,
		Reason:      trigger,
		Candidates:  candidates,
	}
}

// hasShortConjunct reports whether any conjunct of addr is a short
// intersection-style token: two characters or fewer, or a single word
// without a street number.
func hasShortConjunct(addr string) bool {
	for _, part := range conjRe.Split(addr, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if routeRe.MatchString(part) {
			continue
		}
		if len(part) <= 2 {
			return true
		}
		if len(strings.Fields(part)) == 1 && !streetNumberRe.MatchString(part) {
			return true
		}
	}
	return false
}

// hasNumberRun reports whether addr is a comma-separated run of bare numeric
// tokens followed by a street-name-bearing segment, e.g. "8894, 8896 Fort
// Smallwood Rd".
func hasNumberRun(addr string) bool {
	segments := strings.Split(addr, ",")
	if len(segments) < 2 {
		return false
	}
	bare := 0
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if bareNumberRe.MatchString(seg) {
			bare++
			continue
		}
		// First non-bare segment must bear a street name and close the run.
		return bare > 0 && wordRe.MatchString(seg)
	}
	return false
}

// reconstruct rewrites every bare-number segment as "{number} {anchor street
// name}", where the anchor is the right-most segment containing a 3+ letter
// word. Non-bare segments are kept verbatim, in input order.
func reconstruct(addr string) []string {
	var segments []string
	for _, conjunct := range conjRe.Split(addr, -1) {
		for _, seg := range strings.Split(conjunct, ",") {
			seg = strings.TrimSpace(seg)
			if seg != "" {
				segments = append(segments, seg)
			}
		}
	}

	anchorIdx := -1
	for i := len(segments) - 1; i >= 0; i-- {
		if wordRe.MatchString(segments[i]) {
			anchorIdx = i
			break
		}
	}
	if anchorIdx < 0 {
		// Weak signal: a trigger fired but no segment carries a street name.
		zap.L().Debug("split: no anchor street name found",
			zap.String("address", addr),
			zap.Int("segments", len(segments)),
		)
		return segments
	}

	anchor := anchorStreetName(segments[anchorIdx])
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if bareNumberRe.MatchString(seg) {
			out = append(out, seg+" "+anchor)
		} else {
			out = append(out, seg)
		}
	}
	return out
}

// anchorStreetName strips the leading house number from the anchor segment,
// leaving the street name used to rewrite bare-number segments.
func anchorStreetName(seg string) string {
	fields := strings.Fields(seg)
	if len(fields) > 1 && bareNumberRe.MatchString(fields[0]) {
		return strings.Join(fields[1:], " ")
	}
	return seg
}

// secondarySegments returns the conjunct-split segments of the secondary
// address field. A secondary without a conjunction contributes nothing; it
// describes the same physical address as the primary.
func secondarySegments(secondary string) []string {
	secondary = strings.TrimSpace(secondary)
	if secondary == "" || !conjRe.MatchString(secondary) {
		return nil
	}
	var out []string
	for _, seg := range conjRe.Split(secondary, -1) {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

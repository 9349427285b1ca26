package core

import "fmt"

// AdvisoryCode identifies a class of non-fatal quality finding.
type AdvisoryCode string

const (
	// AdvContrastRankMismatch - training and validation contrasts have different ranks.
	AdvContrastRankMismatch AdvisoryCode = "contrast_rank_mismatch"
	// AdvCrossRankDeficient - the cross operator loses dimensions relative to the contrasts.
	AdvCrossRankDeficient AdvisoryCode = "cross_operator_rank_deficient"
	// AdvVarianceNotPreserved - the cross operator scales variance instead of preserving it.
	AdvVarianceNotPreserved AdvisoryCode = "cross_operator_variance"
	// AdvInestimableContrast - a contrast lies outside a session design's row space.
	AdvInestimableContrast AdvisoryCode = "inestimable_contrast"
	// AdvIllConditioned - the regularized covariance exceeds the condition threshold.
	AdvIllConditioned AdvisoryCode = "ill_conditioned_covariance"
)

// Advisory is a quality warning surfaced alongside a successful result.
// Advisories never abort a run; fatal conditions are errors instead.
type Advisory struct {
	Code    AdvisoryCode `json:"code"`
	Message string       `json:"message"`
}

// NewAdvisory creates an advisory with a formatted message.
func NewAdvisory(code AdvisoryCode, format string, args ...interface{}) Advisory {
	return Advisory{Code: code, Message: fmt.Sprintf(format, args...)}
}

// String returns the string representation
func (a Advisory) String() string {
	return fmt.Sprintf("[%s] %s", a.Code, a.Message)
}

// AdvisoryLog collects advisories, deduplicating repeats so a finding is
// reported once per run rather than once per grid position.
type AdvisoryLog struct {
	seen map[Advisory]struct{}
	list []Advisory
}

// NewAdvisoryLog creates an empty advisory log.
func NewAdvisoryLog() *AdvisoryLog {
	return &AdvisoryLog{seen: make(map[Advisory]struct{})}
}

// Add records an advisory, keeping only the first occurrence.
func (l *AdvisoryLog) Add(a Advisory) {
	if _, ok := l.seen[a]; ok {
		return
	}
	l.seen[a] = struct{}{}
	l.list = append(l.list, a)
}

// Addf records a formatted advisory.
func (l *AdvisoryLog) Addf(code AdvisoryCode, format string, args ...interface{}) {
	l.Add(NewAdvisory(code, format, args...))
}

// Merge adds every advisory from another collection.
func (l *AdvisoryLog) Merge(as []Advisory) {
	for _, a := range as {
		l.Add(a)
	}
}

// List returns the collected advisories in first-seen order.
func (l *AdvisoryLog) List() []Advisory {
	out := make([]Advisory, len(l.list))
	copy(out, l.list)
	return out
}

// Len returns the number of distinct advisories collected.
func (l *AdvisoryLog) Len() int {
	return len(l.list)
}

package domain

// Verdict is the tri-state (plus N/A) outcome of one evaluation criterion.
type Verdict string

const (
	VerdictYes       Verdict = "YES"
	VerdictNo        Verdict = "NO"
	VerdictUncertain Verdict = "UNCERTAIN"
	VerdictNA        Verdict = "N/A"
)

// Score maps a verdict onto the numeric scale used for threshold decisions.
// N/A scores -1 as a sentinel for "not evaluated".
func (v Verdict) Score() int {
	switch v {
	case VerdictYes:
		return 100
	case VerdictUncertain:
		return 50
	case VerdictNo:
		return 0
	default:
		return -1
	}
}

// Evaluation holds the per-criterion verdicts for one generated portrait.
type Evaluation struct {
	FaceSimilarity Verdict `json:"face_similarity"`
	Safety         Verdict `json:"safety"`
	RuleAdherence  Verdict `json:"rule_adherence"`
	Notes          string  `json:"notes,omitempty"`
}

// Acceptable reports whether the verdicts clear the acceptance thresholds.
// Only an explicit NO rejects; UNCERTAIN and N/A pass through, which keeps an
// unparseable evaluation from blocking the pipeline.
func (e Evaluation) Acceptable() bool {
	return e.FaceSimilarity != VerdictNo &&
		e.Safety != VerdictNo &&
		e.RuleAdherence != VerdictNo
}

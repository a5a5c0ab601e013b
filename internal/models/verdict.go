package models

import "time"

// Verdict is the validation outcome category for a candidate.
type Verdict string

// Verdict values, in the order the validator checks them.
const (
	VerdictValid            Verdict = "valid"
	VerdictInvalidPrefix    Verdict = "invalid_prefix"
	VerdictInvalidDate      Verdict = "invalid_date"
	VerdictInvalidExtension Verdict = "invalid_extension"
)

// Verdicts lists every verdict, used for metrics and flag validation.
var Verdicts = []Verdict{
	VerdictValid,
	VerdictInvalidPrefix,
	VerdictInvalidDate,
	VerdictInvalidExtension,
}

// IsValid reports whether v is VerdictValid.
func (v Verdict) IsValid() bool {
	return v == VerdictValid
}

// Known reports whether v is one of the defined verdicts.
func (v Verdict) Known() bool {
	for _, known := range Verdicts {
		if v == known {
			return true
		}
	}
	return false
}

// ValidationResult is the validator's decision for one candidate.
// It is never persisted on its own; it is folded into an OutcomeRecord.
type ValidationResult struct {
	Candidate   Candidate
	Verdict     Verdict
	Reason      string
	FileDate    time.Time // Parsed date token, zero unless Valid
	FileVersion string    // Token after the version separator, if any
}

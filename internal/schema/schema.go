// Package schema defines all canonical data types shared by the validator,
// the compliance reporter, and the CLI output format.
package schema

import "fmt"

// CardType is the closed set of canonical result kinds.
type CardType string

const (
	TypeFlight  CardType = "flight"
	TypePlace   CardType = "place"
	TypeTransit CardType = "transit"
)

// CardTypes lists every registered card type in registry order.
var CardTypes = []CardType{TypeFlight, TypePlace, TypeTransit}

// ParseCardType converts a string to a CardType constant.
// Returns an error for unrecognized values.
func ParseCardType(s string) (CardType, error) {
	if ct := CardType(s); Canonical.HasType(ct) {
		return ct, nil
	}
	return "", fmt.Errorf("schema: unknown card type %q", s)
}

// Kind identifies the class of a shape violation.
type Kind string

const (
	KindMissingField       Kind = "MISSING_FIELD"
	KindInvalidType        Kind = "INVALID_TYPE"
	KindInvalidValue       Kind = "INVALID_VALUE"
	KindMissingNestedField Kind = "MISSING_NESTED_FIELD"
	KindInvalidNestedType  Kind = "INVALID_NESTED_TYPE"
	KindSchemaViolation    Kind = "SCHEMA_VIOLATION"
)

// Severity represents the severity level of a violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// RootField is the field name used for violations about the candidate itself.
const RootField = "root"

// Violation is a single shape violation found while validating a candidate.
// Violations are created during one validation pass and never mutated.
type Violation struct {
	Kind     Kind     `json:"kind"`
	Field    string   `json:"field"`
	Expected string   `json:"expected"`
	Actual   string   `json:"actual"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Summary holds violation counts by severity.
type Summary struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

// Add increments the counter for sev.
func (s *Summary) Add(sev Severity) {
	switch sev {
	case SeverityCritical:
		s.Critical++
	case SeverityWarning:
		s.Warning++
	case SeverityInfo:
		s.Info++
	}
}

// ValidationResult is the outcome of validating one candidate card.
type ValidationResult struct {
	IsValid bool        `json:"isValid"`
	Errors  []Violation `json:"errors"`
	Summary Summary     `json:"summary"`
}

// HasKind reports whether any violation of kind k was recorded on field.
func (r *ValidationResult) HasKind(k Kind, field string) bool {
	for _, v := range r.Errors {
		if v.Kind == k && v.Field == field {
			return true
		}
	}
	return false
}

// CardResult pairs a per-card result with the candidate's input position.
type CardResult struct {
	Index  int              `json:"index"`
	ID     string           `json:"id,omitempty"`
	Result ValidationResult `json:"result"`
}

// ArrayResult is the outcome of validating a batch of candidates.
type ArrayResult struct {
	IsValid        bool         `json:"isValid"`
	Errors         []Violation  `json:"errors"`
	Summary        Summary      `json:"summary"`
	Results        []CardResult `json:"results"`
	TotalCards     int          `json:"totalCards"`
	ValidCards     int          `json:"validCards"`
	InvalidCards   int          `json:"invalidCards"`
	CriticalErrors int          `json:"criticalErrors"`
	Warnings       int          `json:"warnings"`
}

// Status is the overall compliance verdict of a report.
type Status string

const (
	StatusFullyCompliant       Status = "FULLY_COMPLIANT"
	StatusMostlyCompliant      Status = "MOSTLY_COMPLIANT"
	StatusNonCompliantCritical Status = "NON_COMPLIANT_CRITICAL"
	StatusNonCompliantWarnings Status = "NON_COMPLIANT_WARNINGS"
)

// ParseStatus converts a string to a Status constant.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusFullyCompliant, StatusMostlyCompliant,
		StatusNonCompliantCritical, StatusNonCompliantWarnings:
		return Status(s), nil
	}
	return "", fmt.Errorf("schema: unknown compliance status %q", s)
}

// ComplianceReport is the top-level output document of a compliance run.
type ComplianceReport struct {
	RunID             string            `json:"runId,omitempty"`
	Timestamp         string            `json:"timestamp"`
	OverallCompliance OverallCompliance `json:"overallCompliance"`
	Recommendations   []string          `json:"recommendations"`
	Summary           ReportSummary     `json:"summary"`
}

// OverallCompliance aggregates per-type results into one verdict.
type OverallCompliance struct {
	OverallRate    float64                     `json:"overallRate"`
	PassedTypes    int                         `json:"passedTypes"`
	TotalTypes     int                         `json:"totalTypes"`
	TotalCards     int                         `json:"totalCards"`
	ValidCards     int                         `json:"validCards"`
	CriticalErrors int                         `json:"criticalErrors"`
	Warnings       int                         `json:"warnings"`
	Status         Status                      `json:"status"`
	TypeCompliance map[CardType]TypeCompliance `json:"typeCompliance"`
}

// TypeCompliance is the compliance detail for a single card type.
type TypeCompliance struct {
	Passed         bool    `json:"passed"`
	ComplianceRate float64 `json:"complianceRate"`
	Issues         int     `json:"issues"`
}

// ReportSummary is the human-oriented digest of a report.
type ReportSummary struct {
	TestDate          string                      `json:"testDate"`
	OverallStatus     Status                      `json:"overallStatus"`
	ComplianceMetrics ComplianceMetrics           `json:"complianceMetrics"`
	CardTypeDetails   map[CardType]CardTypeDetail `json:"cardTypeDetails"`
	NextSteps         []string                    `json:"nextSteps"`
}

// ComplianceMetrics holds formatted headline numbers.
type ComplianceMetrics struct {
	TotalCardsTested int    `json:"totalCardsTested"`
	ValidCards       int    `json:"validCards"`
	ComplianceRate   string `json:"complianceRate"`
	CriticalErrors   int    `json:"criticalErrors"`
	Warnings         int    `json:"warnings"`
}

// CardTypeDetail is the formatted per-type line of the summary.
type CardTypeDetail struct {
	Status         string `json:"status"`
	ComplianceRate string `json:"complianceRate"`
	Issues         int    `json:"issues"`
}

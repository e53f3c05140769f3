// Package report provides deterministic local logic for aggregating per-type
// validation results into a compliance report. It performs no I/O.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/dshills/cardcheck/internal/schema"
)

// Thresholds of the status cascade, in percent.
const (
	fullRate   = 100.0
	mostlyRate = 80.0
)

// StatusOrdinal returns the numeric ordinal for a status, used to compare
// severity order. FULLY_COMPLIANT=0, MOSTLY_COMPLIANT=1,
// NON_COMPLIANT_WARNINGS=2, NON_COMPLIANT_CRITICAL=3.
// Used by --fail-on comparison: exit 2 if StatusOrdinal(actual) >= StatusOrdinal(threshold).
func StatusOrdinal(s schema.Status) int {
	switch s {
	case schema.StatusFullyCompliant:
		return 0
	case schema.StatusMostlyCompliant:
		return 1
	case schema.StatusNonCompliantWarnings:
		return 2
	case schema.StatusNonCompliantCritical:
		return 3
	default:
		return -1
	}
}

// DetermineStatus applies the status rules.
//
// Rules (in order of precedence):
//  1. rate == 100 and no critical errors → FULLY_COMPLIANT
//  2. rate >= 80 and no critical errors → MOSTLY_COMPLIANT
//  3. any critical error → NON_COMPLIANT_CRITICAL
//  4. otherwise → NON_COMPLIANT_WARNINGS
func DetermineStatus(overallRate float64, criticalErrors int) schema.Status {
	switch {
	case overallRate == fullRate && criticalErrors == 0:
		return schema.StatusFullyCompliant
	case overallRate >= mostlyRate && criticalErrors == 0:
		return schema.StatusMostlyCompliant
	case criticalErrors > 0:
		return schema.StatusNonCompliantCritical
	default:
		return schema.StatusNonCompliantWarnings
	}
}

// Rate returns valid/total as a percentage, or 0 when total is 0.
func Rate(valid, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(valid) / float64(total) * 100
}

// BuildComplianceReport aggregates per-type batch results into a report
// stamped with now. Types are visited in OrderedTypes order, so output is
// stable for equal input.
func BuildComplianceReport(results map[schema.CardType]schema.ArrayResult, now time.Time) schema.ComplianceReport {
	oc := schema.OverallCompliance{
		TotalTypes:     len(results),
		TypeCompliance: make(map[schema.CardType]schema.TypeCompliance, len(results)),
	}
	types := OrderedTypes(results)
	var failing []schema.CardType

	for _, ct := range types {
		r := results[ct]
		tc := schema.TypeCompliance{
			Passed:         r.IsValid,
			ComplianceRate: Rate(r.ValidCards, r.TotalCards),
			Issues:         r.CriticalErrors + r.Warnings,
		}
		oc.TypeCompliance[ct] = tc
		if tc.Passed {
			oc.PassedTypes++
		} else {
			failing = append(failing, ct)
		}
		oc.TotalCards += r.TotalCards
		oc.ValidCards += r.ValidCards
		oc.CriticalErrors += r.CriticalErrors
		oc.Warnings += r.Warnings
	}
	oc.OverallRate = Rate(oc.ValidCards, oc.TotalCards)
	oc.Status = DetermineStatus(oc.OverallRate, oc.CriticalErrors)

	stamp := now.UTC().Format(time.RFC3339)
	return schema.ComplianceReport{
		Timestamp:         stamp,
		OverallCompliance: oc,
		Recommendations:   Recommendations(oc, failing),
		Summary: schema.ReportSummary{
			TestDate:      stamp,
			OverallStatus: oc.Status,
			ComplianceMetrics: schema.ComplianceMetrics{
				TotalCardsTested: oc.TotalCards,
				ValidCards:       oc.ValidCards,
				ComplianceRate:   formatRate(oc.OverallRate),
				CriticalErrors:   oc.CriticalErrors,
				Warnings:         oc.Warnings,
			},
			CardTypeDetails: cardTypeDetails(oc.TypeCompliance),
			NextSteps:       NextSteps(oc.Status),
		},
	}
}

// Recommendations builds the additive recommendation list. failing names the
// types that did not pass, in report order.
func Recommendations(oc schema.OverallCompliance, failing []schema.CardType) []string {
	recs := []string{}
	if oc.CriticalErrors > 0 {
		recs = append(recs, fmt.Sprintf(
			"Fix %d critical validation errors before using these cards downstream", oc.CriticalErrors))
	}
	if oc.Warnings > 0 {
		recs = append(recs, fmt.Sprintf(
			"Address %d validation warnings to improve data quality", oc.Warnings))
	}
	if oc.OverallRate < fullRate {
		recs = append(recs, fmt.Sprintf(
			"Raise the overall compliance rate from %s to 100%%", formatRate(oc.OverallRate)))
	}
	for _, ct := range failing {
		recs = append(recs, fmt.Sprintf(
			"Review the %s translator: %s of %s cards are compliant",
			ct, formatRate(oc.TypeCompliance[ct].ComplianceRate), ct))
	}
	if oc.Status == schema.StatusFullyCompliant {
		recs = append(recs, "All card types are fully compliant and ready for downstream use")
	}
	return recs
}

// NextSteps returns the ordered checklist for a status.
func NextSteps(s schema.Status) []string {
	switch s {
	case schema.StatusFullyCompliant:
		return []string{
			"Enable the canonical card pipeline for all providers",
			"Monitor compliance on live provider traffic",
			"Add fixtures for every new provider before rollout",
		}
	case schema.StatusMostlyCompliant:
		return []string{
			"Resolve the remaining invalid cards",
			"Re-run compliance validation",
			"Promote once the compliance rate reaches 100%",
		}
	case schema.StatusNonCompliantCritical:
		return []string{
			"Fix critical validation errors in the failing translators",
			"Re-run compliance validation until no critical errors remain",
			"Hold rollout until the report is at least MOSTLY_COMPLIANT",
		}
	default:
		return []string{
			"Address validation warnings in the failing translators",
			"Raise the compliance rate above 80%",
			"Re-run compliance validation",
		}
	}
}

func cardTypeDetails(tcs map[schema.CardType]schema.TypeCompliance) map[schema.CardType]schema.CardTypeDetail {
	out := make(map[schema.CardType]schema.CardTypeDetail, len(tcs))
	for ct, tc := range tcs {
		status := "FAIL"
		if tc.Passed {
			status = "PASS"
		}
		out[ct] = schema.CardTypeDetail{
			Status:         status,
			ComplianceRate: formatRate(tc.ComplianceRate),
			Issues:         tc.Issues,
		}
	}
	return out
}

// OrderedTypes returns the keys of m in report order: registry types first,
// then any others lexically.
func OrderedTypes[V any](m map[schema.CardType]V) []schema.CardType {
	var out []schema.CardType
	seen := make(map[schema.CardType]bool, len(m))
	for _, ct := range schema.CardTypes {
		if _, ok := m[ct]; ok {
			out = append(out, ct)
			seen[ct] = true
		}
	}
	var rest []schema.CardType
	for ct := range m {
		if !seen[ct] {
			rest = append(rest, ct)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

func formatRate(r float64) string {
	return fmt.Sprintf("%.1f%%", r)
}

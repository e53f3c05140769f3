// Package render produces output from compliance reports and batch results.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/cardcheck/internal/report"
	"github.com/dshills/cardcheck/internal/schema"
)

// ReportJSON produces a pretty-printed JSON representation of the report.
// The output round-trips through json.Unmarshal back to an equal report.
func ReportJSON(r *schema.ComplianceReport) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("render: nil report")
	}
	return marshal(r)
}

// BatchJSON produces a pretty-printed JSON representation of a batch result.
func BatchJSON(r *schema.ArrayResult) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("render: nil batch result")
	}
	return marshal(r)
}

// ResultsJSON produces a pretty-printed JSON object of batch results keyed by
// card type.
func ResultsJSON(results map[schema.CardType]schema.ArrayResult) ([]byte, error) {
	if results == nil {
		return nil, fmt.Errorf("render: nil results")
	}
	return marshal(results)
}

func marshal(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return b, nil
}

// ReportMarkdown produces a GitHub-flavoured Markdown summary of the report,
// suitable for PR comments or terminal output. Every card type present in
// the report appears in the type table.
func ReportMarkdown(r *schema.ComplianceReport) string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	m := r.Summary.ComplianceMetrics

	sb.WriteString("## Card Compliance Report\n\n")
	fmt.Fprintf(&sb, "**Status:** %s  \n", r.Summary.OverallStatus)
	fmt.Fprintf(&sb, "**Compliance:** %s (%d/%d cards)  \n", m.ComplianceRate, m.ValidCards, m.TotalCardsTested)
	fmt.Fprintf(&sb, "**Critical:** %d | **Warnings:** %d  \n", m.CriticalErrors, m.Warnings)
	fmt.Fprintf(&sb, "**Tested:** %s", r.Summary.TestDate)
	if r.RunID != "" {
		fmt.Fprintf(&sb, "  \n**Run:** `%s`", r.RunID)
	}
	sb.WriteString("\n\n")

	if len(r.Summary.CardTypeDetails) > 0 {
		sb.WriteString("## Card Types\n\n")
		sb.WriteString("| Type | Status | Compliance | Issues |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, ct := range report.OrderedTypes(r.Summary.CardTypeDetails) {
			d := r.Summary.CardTypeDetails[ct]
			fmt.Fprintf(&sb, "| %s | %s | %s | %d |\n", mdEscape(string(ct)), d.Status, d.ComplianceRate, d.Issues)
		}
		sb.WriteString("\n")
	}

	writeList(&sb, "Recommendations", r.Recommendations, false)
	writeList(&sb, "Next Steps", r.Summary.NextSteps, true)
	return sb.String()
}

// BatchMarkdown renders a batch result for one card type. Only invalid cards
// and cards carrying warnings are listed individually.
func BatchMarkdown(ct schema.CardType, r *schema.ArrayResult) string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	verdict := "PASS"
	if !r.IsValid {
		verdict = "FAIL"
	}

	fmt.Fprintf(&sb, "## %s cards: %s\n\n", ct, verdict)
	fmt.Fprintf(&sb, "**Total:** %d | **Valid:** %d | **Invalid:** %d  \n", r.TotalCards, r.ValidCards, r.InvalidCards)
	fmt.Fprintf(&sb, "**Critical:** %d | **Warnings:** %d\n\n", r.CriticalErrors, r.Warnings)

	if len(r.Errors) > 0 {
		sb.WriteString("### Input\n\n")
		writeViolations(&sb, r.Errors)
	}
	for _, cr := range r.Results {
		if cr.Result.IsValid && cr.Result.Summary.Warning == 0 {
			continue
		}
		label := fmt.Sprintf("#%d", cr.Index)
		if cr.ID != "" {
			label += " `" + cr.ID + "`"
		}
		status := "valid"
		if !cr.Result.IsValid {
			status = "invalid"
		}
		fmt.Fprintf(&sb, "<details>\n<summary><strong>%s</strong> [%s]</summary>\n\n", label, status)
		writeViolations(&sb, cr.Result.Errors)
		sb.WriteString("</details>\n\n")
	}
	return sb.String()
}

// ResultsMarkdown renders every batch with BatchMarkdown in report order.
func ResultsMarkdown(results map[schema.CardType]schema.ArrayResult) string {
	var sb strings.Builder
	for _, ct := range report.OrderedTypes(results) {
		r := results[ct]
		sb.WriteString(BatchMarkdown(ct, &r))
	}
	return sb.String()
}

func writeViolations(sb *strings.Builder, vs []schema.Violation) {
	if len(vs) == 0 {
		return
	}
	sb.WriteString("| Severity | Kind | Field | Message |\n")
	sb.WriteString("|---|---|---|---|\n")
	for _, v := range vs {
		fmt.Fprintf(sb, "| %s | %s | `%s` | %s |\n", v.Severity, v.Kind, mdEscape(v.Field), mdEscape(v.Message))
	}
	sb.WriteString("\n")
}

func writeList(sb *strings.Builder, title string, items []string, numbered bool) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "## %s\n\n", title)
	for i, item := range items {
		if numbered {
			fmt.Fprintf(sb, "%d. %s\n", i+1, mdEscape(item))
		} else {
			fmt.Fprintf(sb, "- %s\n", mdEscape(item))
		}
	}
	sb.WriteString("\n")
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}

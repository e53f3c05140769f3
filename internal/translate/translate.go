// Package translate turns raw provider payloads into canonical cards with an
// LLM, validates the output, and performs a single repair attempt. Transient
// provider failures are retried according to a retry.Config.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/cardcheck/internal/profile"
	"github.com/dshills/cardcheck/internal/retry"
	"github.com/dshills/cardcheck/internal/schema"
	"github.com/dshills/cardcheck/internal/validator"
)

// ErrInvalidModelOutput is returned when both the initial and repair
// responses fail validation. The caller should exit with code 5.
var ErrInvalidModelOutput = errors.New("translate: invalid model output after repair attempt")

// Provider is the interface for LLM backends.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// NewProvider is the factory for creating LLM providers. It is a package-level
// variable so tests can replace it with a mock without modifying the call site.
// Tests must restore the original value; use t.Cleanup to do so safely.
var NewProvider func(providerName, model string) (Provider, error) = defaultNewProvider

// sleep waits for d or until ctx is done. Tests replace it to avoid real
// backoff delays.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryObserver is notified of every retried provider call.
type RetryObserver interface {
	ObserveRetry(provider string, kind retry.Kind)
}

// Options configures a Translate call.
type Options struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
	Retry       retry.Config
	Logger      *zap.Logger
	Observer    RetryObserver
}

// Result is the outcome of a translation.
type Result struct {
	Type       schema.CardType
	Cards      []any
	Validation schema.ArrayResult
	// Repaired is set when the first response was rejected and the repair
	// response was accepted.
	Repaired bool
	// Calls counts provider calls, retries included.
	Calls int
}

// Translate asks the configured provider to convert raw into canonical cards
// of type ct. The response is validated; if it cannot be parsed or contains a
// critical violation, one repair attempt is made with the violations attached.
//
// Provider failures are returned as *retry.ProviderError after the retry
// policy gives up. When the repair response is also rejected, the last
// Result is returned together with ErrInvalidModelOutput.
func Translate(ctx context.Context, raw []byte, ct schema.CardType, opts Options) (*Result, error) {
	prof, err := profile.Load(string(ct))
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	provider, err := NewProvider(opts.Provider, opts.Model)
	if err != nil {
		return nil, fmt.Errorf("translate: create provider: %w", err)
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = retry.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("provider", providerName(opts.Provider)), zap.String("type", string(ct)))

	c := &caller{provider: provider, name: providerName(opts.Provider), opts: opts, log: log}
	sysPrompt := buildSystemPrompt(prof)
	userPrompt := buildUserPrompt(ct, raw)

	resp, err := c.complete(ctx, sysPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	res := &Result{Type: ct}
	cards, issues := ValidateResponse(resp, ct, &res.Validation)
	if len(issues) == 0 {
		res.Cards, res.Calls = cards, c.calls
		return res, nil
	}
	log.Info("model output rejected; attempting repair", zap.Int("issues", len(issues)))

	repairPrompt := buildRepairPrompt(userPrompt, resp, issues)
	resp2, err := c.complete(ctx, sysPrompt, repairPrompt)
	if err != nil {
		return nil, err
	}
	cards, issues = ValidateResponse(resp2, ct, &res.Validation)
	res.Calls = c.calls
	if len(issues) == 0 {
		res.Cards, res.Repaired = cards, true
		return res, nil
	}
	log.Warn("repair response rejected", zap.Int("issues", len(issues)))
	res.Cards = cards
	return res, ErrInvalidModelOutput
}

// caller owns the attempt counter for one Translate call.
type caller struct {
	provider Provider
	name     string
	opts     Options
	log      *zap.Logger
	calls    int
}

// complete calls the provider, retrying transient failures with backoff.
func (c *caller) complete(ctx context.Context, system, user string) (string, error) {
	for attempt := 1; ; attempt++ {
		c.calls++
		out, err := c.provider.Complete(ctx, system, user, c.opts.MaxTokens, c.opts.Temperature)
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("translate: %w", ctxErr)
		}
		pe := Classify(c.name, err)
		d := c.opts.Retry.Decide(pe, attempt)
		if !d.ShouldRetry {
			c.log.Error("provider call failed",
				zap.Int("attempt", attempt),
				zap.String("kind", string(pe.Kind)),
				zap.Int("status", pe.StatusCode),
				zap.String("reason", d.Reason),
				zap.Error(err))
			return "", pe
		}
		c.log.Warn("retrying provider call",
			zap.Int("attempt", attempt),
			zap.String("kind", string(pe.Kind)),
			zap.Int("status", pe.StatusCode),
			zap.Duration("delay", d.Delay))
		if c.opts.Observer != nil {
			c.opts.Observer.ObserveRetry(c.name, pe.Kind)
		}
		if err := sleep(ctx, d.Delay); err != nil {
			return "", fmt.Errorf("translate: %w", err)
		}
	}
}

// Issue records a single reason a model response was rejected.
type Issue struct {
	Field   string
	Message string
}

func (i Issue) Error() string {
	return fmt.Sprintf("validation: %s: %s", i.Field, i.Message)
}

// ValidateResponse parses the raw model response and validates every card
// against the canonical registry. Leading/trailing markdown fences are
// stripped before parsing. The batch result is stored in into. The returned
// issues are empty when the response is acceptable: it parsed and no card
// has a critical violation.
func ValidateResponse(raw string, ct schema.CardType, into *schema.ArrayResult) ([]any, []Issue) {
	raw = stripMarkdownFences(raw)

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		if err2 := json.Unmarshal([]byte(fixInvalidJSONEscapes(raw)), &doc); err2 != nil {
			*into = schema.ArrayResult{}
			return nil, []Issue{{Field: "json_parse", Message: err.Error()}}
		}
	}

	var cards []any
	switch d := doc.(type) {
	case []any:
		cards = d
	case map[string]any:
		if inner, ok := d["cards"].([]any); ok {
			cards = inner
		} else {
			cards = []any{d}
		}
	default:
		*into = schema.ArrayResult{}
		return nil, []Issue{{Field: schema.RootField, Message: fmt.Sprintf("expected an array of cards, got %T", doc)}}
	}

	*into = validator.ValidateCardArray(cards, ct)
	var issues []Issue
	for _, cr := range into.Results {
		for _, v := range cr.Result.Errors {
			if v.Severity != schema.SeverityCritical {
				continue
			}
			issues = append(issues, Issue{
				Field:   fmt.Sprintf("cards[%d].%s", cr.Index, v.Field),
				Message: v.Message,
			})
		}
	}
	return cards, issues
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line, for truncated responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is
// not a valid JSON string escape character ("\/bfnrtu).
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

// buildSystemPrompt assembles the translator system prompt from the profile
// and the canonical registry.
func buildSystemPrompt(prof profile.Profile) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You translate raw travel provider data into canonical %s cards.\n\n", prof.Type)
	sb.WriteString("Output ONLY a JSON array of card objects. " +
		"No prose, no markdown, no explanation outside the JSON.\n\n")
	sb.WriteString("Never invent values that are not in the input. " +
		"Omit optional fields you cannot fill; never emit empty strings for required text.\n\n")

	if prof.SystemPromptAddendum != "" {
		sb.WriteString(prof.SystemPromptAddendum)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Card fields:\n")
	for _, f := range schema.Canonical.Fields {
		writeField(&sb, "  ", f)
	}
	if len(prof.LocationKeys) > 0 {
		fmt.Fprintf(&sb, "\nPrefer location keys: %s.\n", strings.Join(prof.LocationKeys, ", "))
	}
	fmt.Fprintf(&sb, "\nEvery card must have \"type\": %q.\n", prof.Type)
	sb.WriteString("Timestamps use YYYY-MM-DDTHH:MM:SS with optional .mmm and Z.\n")
	return sb.String()
}

func writeField(sb *strings.Builder, indent string, f schema.FieldSpec) {
	req := "optional"
	if f.Required {
		req = "required"
	}
	fmt.Fprintf(sb, "%s- %s (%s, %s)", indent, f.Name, f.Type, req)
	if len(f.Enum) > 0 {
		fmt.Fprintf(sb, " one of %s", strings.Join(f.Enum, "|"))
	}
	if len(f.AnyOf) > 0 {
		groups := make([]string, len(f.AnyOf))
		for i, g := range f.AnyOf {
			groups[i] = "{" + strings.Join(g, ",") + "}"
		}
		fmt.Fprintf(sb, " with keys %s", strings.Join(groups, " or "))
	}
	if f.Min != nil && f.Max != nil {
		fmt.Fprintf(sb, " in [%g, %g]", *f.Min, *f.Max)
	} else if f.Min != nil {
		fmt.Fprintf(sb, " >= %g", *f.Min)
	}
	sb.WriteString("\n")
	for _, sub := range f.Fields {
		writeField(sb, indent+"  ", sub)
	}
}

func buildUserPrompt(ct schema.CardType, raw []byte) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "RAW %s PROVIDER DATA:\n", strings.ToUpper(string(ct)))
	sb.Write(raw)
	sb.WriteString("\n\nProduce the JSON array of canonical cards now.")
	return sb.String()
}

// buildRepairPrompt includes the original user prompt and the previous
// response so the model has full context.
func buildRepairPrompt(originalUserPrompt, previousResponse string, issues []Issue) string {
	var sb strings.Builder
	sb.WriteString(originalUserPrompt)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(previousResponse)
	sb.WriteString("\n\nThat response was invalid. Errors:\n")
	for _, i := range issues {
		fmt.Fprintf(&sb, "  - %s\n", i.Error())
	}
	sb.WriteString("\nPlease output only the corrected JSON array. Do not repeat the errors.")
	return sb.String()
}

package translate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dshills/cardcheck/internal/profile"
	"github.com/dshills/cardcheck/internal/retry"
	"github.com/dshills/cardcheck/internal/schema"
)

const validFlight = `{
  "id": "fl-9", "type": "flight", "title": "OAK to BUR", "subtitle": "Southwest, nonstop",
  "location": {"from": "OAK", "to": "BUR"},
  "details": {"airline": "WN"}, "essentialDetails": {}, "externalLinks": {},
  "metadata": {"provider": "skyscanner", "timestamp": "2026-10-17T08:00:00Z", "confidence": 0.8}
}`

// invalidFlight has a confidence outside [0, 1].
var invalidFlight = strings.Replace(validFlight, `"confidence": 0.8`, `"confidence": 3`, 1)

// step is one scripted provider reply.
type step struct {
	out string
	err error
}

// mockProvider is a test double for Provider.
type mockProvider struct {
	steps   []step // returned in order; last entry is repeated if list exhausted
	prompts []string
}

func (m *mockProvider) Complete(_ context.Context, _, user string, _ int, _ float64) (string, error) {
	if len(m.steps) == 0 {
		return "", fmt.Errorf("mockProvider: no responses configured")
	}
	idx := len(m.prompts)
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	}
	m.prompts = append(m.prompts, user)
	return m.steps[idx].out, m.steps[idx].err
}

func installMock(t *testing.T, mp *mockProvider) {
	t.Helper()
	orig := NewProvider
	NewProvider = func(_, _ string) (Provider, error) { return mp, nil }
	t.Cleanup(func() { NewProvider = orig })
}

// installSleep records backoff delays instead of waiting.
func installSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = orig })
	return &delays
}

type countingObserver map[retry.Kind]int

func (c countingObserver) ObserveRetry(_ string, k retry.Kind) { c[k]++ }

func TestTranslate_ValidResponse(t *testing.T) {
	mp := &mockProvider{steps: []step{{out: "[" + validFlight + "]"}}}
	installMock(t, mp)

	res, err := Translate(context.Background(), []byte(`{"raw": true}`), schema.TypeFlight, Options{})
	if err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	if res.Repaired || res.Calls != 1 || len(res.Cards) != 1 {
		t.Errorf("result = %+v", res)
	}
	if !res.Validation.IsValid || res.Validation.TotalCards != 1 {
		t.Errorf("validation = %+v", res.Validation)
	}
	if !strings.Contains(mp.prompts[0], `{"raw": true}`) {
		t.Error("user prompt does not carry the raw payload")
	}
}

func TestTranslate_RepairTriggered(t *testing.T) {
	mp := &mockProvider{steps: []step{
		{out: "[" + invalidFlight + "]"},
		{out: "```json\n[" + validFlight + "]\n```"},
	}}
	installMock(t, mp)

	res, err := Translate(context.Background(), []byte(`{}`), schema.TypeFlight, Options{})
	if err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	if !res.Repaired || res.Calls != 2 {
		t.Errorf("Repaired = %v, Calls = %d", res.Repaired, res.Calls)
	}
	if !strings.Contains(mp.prompts[1], "cards[0].metadata.confidence") {
		t.Errorf("repair prompt does not name the violation:\n%s", mp.prompts[1])
	}
}

func TestTranslate_BothResponsesInvalid(t *testing.T) {
	mp := &mockProvider{steps: []step{{out: "not json"}, {out: "[" + invalidFlight + "]"}}}
	installMock(t, mp)

	res, err := Translate(context.Background(), []byte(`{}`), schema.TypeFlight, Options{})
	if !errors.Is(err, ErrInvalidModelOutput) {
		t.Fatalf("err = %v, want ErrInvalidModelOutput", err)
	}
	if res == nil || res.Validation.CriticalErrors == 0 {
		t.Errorf("expected the rejected validation to be returned, got %+v", res)
	}
	if !strings.Contains(mp.prompts[1], "json_parse") {
		t.Error("repair prompt does not carry the parse error")
	}
}

func TestTranslate_RetriesTransientFailures(t *testing.T) {
	down := &retry.ProviderError{Kind: retry.KindAPIDown, StatusCode: 503, Provider: "anthropic", Message: "overloaded"}
	mp := &mockProvider{steps: []step{{err: down}, {err: down}, {out: "[" + validFlight + "]"}}}
	installMock(t, mp)
	delays := installSleep(t)
	obs := countingObserver{}

	res, err := Translate(context.Background(), []byte(`{}`), schema.TypeFlight, Options{
		Retry:    retry.DefaultConfig(),
		Observer: obs,
	})
	if err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	if res.Calls != 3 {
		t.Errorf("Calls = %d, want 3", res.Calls)
	}
	if len(*delays) != 2 || (*delays)[0] != time.Second || (*delays)[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", *delays)
	}
	if obs[retry.KindAPIDown] != 2 {
		t.Errorf("observed retries = %v", obs)
	}
}

func TestTranslate_AttemptsExhausted(t *testing.T) {
	down := &retry.ProviderError{Kind: retry.KindNetworkError, Provider: "openai", Message: "reset"}
	mp := &mockProvider{steps: []step{{err: down}}}
	installMock(t, mp)
	installSleep(t)

	_, err := Translate(context.Background(), []byte(`{}`), schema.TypeFlight, Options{Provider: "openai"})
	var pe *retry.ProviderError
	if !errors.As(err, &pe) || pe.Kind != retry.KindNetworkError {
		t.Fatalf("err = %v, want NETWORK_ERROR ProviderError", err)
	}
	if len(mp.prompts) != 3 {
		t.Errorf("provider called %d times, want 3", len(mp.prompts))
	}
}

func TestTranslate_RateLimitNotRetried(t *testing.T) {
	limited := &retry.ProviderError{Kind: retry.KindRateLimit, StatusCode: 429, Provider: "google"}
	mp := &mockProvider{steps: []step{{err: limited}}}
	installMock(t, mp)
	delays := installSleep(t)

	_, err := Translate(context.Background(), []byte(`{}`), schema.TypePlace, Options{})
	var pe *retry.ProviderError
	if !errors.As(err, &pe) || pe.Kind != retry.KindRateLimit {
		t.Fatalf("err = %v, want RATE_LIMIT ProviderError", err)
	}
	if len(mp.prompts) != 1 || len(*delays) != 0 {
		t.Errorf("calls = %d, delays = %v; rate limits must not be retried", len(mp.prompts), *delays)
	}
}

func TestTranslate_CancelledDuringBackoff(t *testing.T) {
	down := &retry.ProviderError{Kind: retry.KindAPIDown, StatusCode: 500}
	mp := &mockProvider{steps: []step{{err: down}}}
	installMock(t, mp)

	ctx, cancel := context.WithCancel(context.Background())
	orig := sleep
	sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	t.Cleanup(func() { sleep = orig })

	_, err := Translate(ctx, []byte(`{}`), schema.TypeTransit, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTranslate_UnknownType(t *testing.T) {
	installMock(t, &mockProvider{})
	if _, err := Translate(context.Background(), nil, "cruise", Options{}); err == nil {
		t.Error("expected error for unknown card type")
	}
}

func TestTranslate_ProviderFactoryError(t *testing.T) {
	orig := NewProvider
	NewProvider = func(_, _ string) (Provider, error) { return nil, errors.New("no key") }
	t.Cleanup(func() { NewProvider = orig })

	if _, err := Translate(context.Background(), nil, schema.TypeFlight, Options{}); err == nil {
		t.Error("expected factory error")
	}
}

func TestValidateResponse_Shapes(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		wantCards int
		wantIssue string
	}{
		{"array", "[" + validFlight + "]", 1, ""},
		{"fenced", "```json\n[" + validFlight + "]\n```", 1, ""},
		{"truncated fence", "```json\n[" + validFlight + "]", 1, ""},
		{"wrapped", `{"cards": [` + validFlight + `]}`, 1, ""},
		{"single object", validFlight, 1, ""},
		{"not json", "sorry, I cannot", 0, "json_parse"},
		{"scalar", `42`, 0, schema.RootField},
		{"critical", "[" + invalidFlight + "]", 1, "cards[0].metadata.confidence"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var res schema.ArrayResult
			cards, issues := ValidateResponse(c.raw, schema.TypeFlight, &res)
			if len(cards) != c.wantCards {
				t.Errorf("cards = %d, want %d", len(cards), c.wantCards)
			}
			if c.wantIssue == "" {
				if len(issues) != 0 {
					t.Errorf("unexpected issues: %v", issues)
				}
				return
			}
			if len(issues) == 0 || !strings.HasPrefix(issues[0].Field, c.wantIssue) {
				t.Errorf("issues = %v, want field %q", issues, c.wantIssue)
			}
		})
	}
}

func TestValidateResponse_WarningsAccepted(t *testing.T) {
	noProvider := strings.Replace(validFlight, `"provider": "skyscanner", `, "", 1)
	var res schema.ArrayResult
	_, issues := ValidateResponse("["+noProvider+"]", schema.TypeFlight, &res)
	if len(issues) != 0 {
		t.Errorf("warnings must not trigger repair: %v", issues)
	}
	if res.Warnings != 1 {
		t.Errorf("warnings = %d, want 1", res.Warnings)
	}
}

func TestFixInvalidJSONEscapes(t *testing.T) {
	raw := `[{"note": "gate \d+"}]`
	var res schema.ArrayResult
	_, issues := ValidateResponse(raw, schema.TypeFlight, &res)
	for _, i := range issues {
		if i.Field == "json_parse" {
			t.Fatalf("escape sanitizer did not recover: %v", i)
		}
	}
}

func TestClassify(t *testing.T) {
	pre := &retry.ProviderError{Kind: retry.KindRateLimit, StatusCode: 429}
	cases := []struct {
		name   string
		err    error
		kind   retry.Kind
		status int
	}{
		{"pre-classified", fmt.Errorf("wrapped: %w", pre), retry.KindRateLimit, 429},
		{"googleapi 503", &googleapi.Error{Code: 503, Message: "unavailable"}, retry.KindAPIDown, 503},
		{"googleapi 400", &googleapi.Error{Code: 400, Message: "bad"}, retry.KindInvalidParams, 400},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "quota"), retry.KindRateLimit, 429},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), retry.KindAPIDown, 503},
		{"net", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, retry.KindNetworkError, 0},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), retry.KindNetworkError, 0},
		{"empty payload", errors.New("openai: response contained no choices"), retry.KindAPIDown, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			pe := Classify("test", c.err)
			if pe.Kind != c.kind || pe.StatusCode != c.status {
				t.Errorf("Classify = %s/%d, want %s/%d", pe.Kind, pe.StatusCode, c.kind, c.status)
			}
		})
	}
}

func TestBuildSystemPrompt_DescribesRegistry(t *testing.T) {
	p := buildSystemPrompt(mustProfile(t, schema.TypePlace))
	for _, want := range []string{`"type": "place"`, "metadata (object, required)", "confidence (number, optional) in [0, 1]", "{lat,lng}",
		"Prefer location keys: lat, lng, address, name."} {
		if !strings.Contains(p, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestBuildSystemPrompt_LocationKeysFollowProfile(t *testing.T) {
	p := buildSystemPrompt(mustProfile(t, schema.TypeFlight))
	if !strings.Contains(p, "Prefer location keys: from, to.") {
		t.Errorf("flight prompt missing location keys:\n%s", p)
	}
	if p := buildSystemPrompt(profile.Profile{Type: schema.TypePlace}); strings.Contains(p, "Prefer location keys") {
		t.Error("profile without location keys should not mention them")
	}
}

func mustProfile(t *testing.T, ct schema.CardType) profile.Profile {
	t.Helper()
	p, err := profile.Load(string(ct))
	if err != nil {
		t.Fatalf("profile.Load(%q): %v", ct, err)
	}
	return p
}

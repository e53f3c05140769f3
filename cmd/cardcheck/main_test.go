package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/cardcheck/internal/retry"
	"github.com/dshills/cardcheck/internal/schema"
	"github.com/dshills/cardcheck/internal/sink"
	"github.com/dshills/cardcheck/internal/translate"
)

type fakePublisher struct {
	published map[schema.CardType]int
	err       error
	closed    bool
}

func (f *fakePublisher) Publish(_ context.Context, ct schema.CardType, cards []any, _ schema.ArrayResult) (sink.Stats, error) {
	if f.err != nil {
		return sink.Stats{}, f.err
	}
	if f.published == nil {
		f.published = map[schema.CardType]int{}
	}
	f.published[ct] += len(cards)
	return sink.Stats{Published: len(cards)}, nil
}

func (f *fakePublisher) RunID() string { return "run-fixed" }

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func injectPublisher(t *testing.T, p *fakePublisher) {
	t.Helper()
	orig := openPublisher
	openPublisher = func(sink.Config, ...sink.Option) (cardPublisher, error) { return p, nil }
	t.Cleanup(func() { openPublisher = orig })
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), exitCodeInternal},
		{withCode(exitCodeBadInput, errors.New("x")), exitCodeBadInput},
		{fmt.Errorf("wrapped: %w", withCode(exitCodeFailOn, errors.New("x"))), exitCodeFailOn},
	}
	for _, c := range cases {
		if got := exitCode(c.err); got != c.want {
			t.Errorf("exitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestTranslateError(t *testing.T) {
	pe := &retry.ProviderError{Kind: retry.KindRateLimit, StatusCode: 429, Provider: "openai"}
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid output", translate.ErrInvalidModelOutput, exitCodeBadOutput},
		{"provider", pe, exitCodeAPIError},
		{"factory", fmt.Errorf("translate: create provider: %w", errors.New("OPENAI_API_KEY is not set")), exitCodeAPIError},
		{"cancelled", context.Canceled, exitCodeInternal},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := exitCode(translateError(nil, schema.TypeFlight, c.err)); got != c.want {
				t.Errorf("exit code = %d, want %d", got, c.want)
			}
		})
	}
}

func TestPublishAll(t *testing.T) {
	p := &fakePublisher{}
	groups := map[schema.CardType]any{
		schema.TypeFlight: []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}},
		schema.TypePlace:  map[string]any{"id": "not a list"},
	}
	results := map[schema.CardType]schema.ArrayResult{
		schema.TypeFlight: {IsValid: true, TotalCards: 2, ValidCards: 2},
		schema.TypePlace:  {CriticalErrors: 1},
	}
	if err := publishAll(context.Background(), p, groups, results); err != nil {
		t.Fatalf("publishAll: %v", err)
	}
	if p.published[schema.TypeFlight] != 2 {
		t.Errorf("flight published = %d, want 2", p.published[schema.TypeFlight])
	}
	if _, ok := p.published[schema.TypePlace]; ok {
		t.Error("non-list batch should not be published")
	}

	p.err = errors.New("broker down")
	err := publishAll(context.Background(), p, groups, results)
	if exitCode(err) != exitCodeAPIError {
		t.Errorf("publish failure exit code = %d, want %d", exitCode(err), exitCodeAPIError)
	}
}

func TestRunReport_PublishUsesPublisherRunID(t *testing.T) {
	p := &fakePublisher{}
	injectPublisher(t, p)
	out := filepath.Join(t.TempDir(), "report.json")

	f := reportFlags{paths: []string{"../../testdata/report/cards.json"}, format: "json", out: out, publish: true}
	if err := runReport(context.Background(), f); err != nil {
		t.Fatalf("runReport: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"runId": "run-fixed"`) {
		t.Errorf("report does not carry the publisher run id:\n%s", b)
	}
	if p.published[schema.TypeFlight] != 1 || p.published[schema.TypePlace] != 2 {
		t.Errorf("published = %v", p.published)
	}
	if !p.closed {
		t.Error("publisher not closed")
	}
}

func TestWriteOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	if err := writeOutput(path, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "hello\n" {
		t.Errorf("content = %q", b)
	}
}

func TestReadPayload(t *testing.T) {
	orig := stdin
	stdin = strings.NewReader(`{"raw": true}`)
	t.Cleanup(func() { stdin = orig })

	b, err := readPayload("-")
	if err != nil || string(b) != `{"raw": true}` {
		t.Errorf("readPayload(-) = %q, %v", b, err)
	}

	empty := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readPayload(empty); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestRunValidate_FirstFailingTypeInRegistryOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"flights.json", "places.json", "transit.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(`[{"id": "x"}]`), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	f := validateFlags{path: dir, format: "json", out: filepath.Join(t.TempDir(), "out.json")}
	for i := 0; i < 10; i++ {
		err := runValidate(context.Background(), f)
		if exitCode(err) != exitCodeFailOn {
			t.Fatalf("exit code = %d, want %d: %v", exitCode(err), exitCodeFailOn, err)
		}
		if !strings.HasPrefix(err.Error(), "flight cards") {
			t.Fatalf("run %d: error = %q, want the flight batch reported first", i, err)
		}
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/cardcheck/internal/render"
	"github.com/dshills/cardcheck/internal/retry"
	"github.com/dshills/cardcheck/internal/schema"
	"github.com/dshills/cardcheck/internal/translate"
)

type translateFlags struct {
	globalFlags
	payload    string
	cardType   string
	provider   string
	model      string
	format     string
	out        string
	publish    bool
	metricsOut string
}

// stdin is replaced in tests.
var stdin io.Reader = os.Stdin

func newTranslateCmd(g *globalFlags) *cobra.Command {
	var f translateFlags
	cmd := &cobra.Command{
		Use:   "translate PAYLOAD",
		Short: "Translate a raw provider payload into canonical cards with an LLM",
		Long: `Translate sends a raw upstream payload (a file, or - for stdin) to the
configured LLM provider and validates the returned cards. A response with a
critical violation gets one repair attempt.

Exit codes: 3 bad input, 4 provider failure after retries, 5 the model
output was still invalid after repair (violations are printed to stderr).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.globalFlags = *g
			f.payload = args[0]
			return runTranslate(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.cardType, "type", "", "Card type to produce (flight, place, transit)")
	cmd.Flags().StringVar(&f.provider, "provider", "", "Override translate.provider (anthropic, openai, google)")
	cmd.Flags().StringVar(&f.model, "model", "", "Override translate.model")
	cmd.Flags().StringVar(&f.format, "format", "json", "Output format: json (cards) or md (validation)")
	cmd.Flags().StringVar(&f.out, "out", "", "Write output to file instead of stdout")
	cmd.Flags().BoolVar(&f.publish, "publish", false, "Publish the translated cards to Kafka")
	cmd.Flags().StringVar(&f.metricsOut, "metrics-out", "", "Write Prometheus metrics in text format to file")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func runTranslate(ctx context.Context, f translateFlags) error {
	if f.cardType == "" {
		return badInput("--type is required")
	}
	ct, err := schema.ParseCardType(f.cardType)
	if err != nil {
		return withCode(exitCodeBadInput, err)
	}
	if err := checkFormat(f.format); err != nil {
		return err
	}
	raw, err := readPayload(f.payload)
	if err != nil {
		return withCode(exitCodeBadInput, err)
	}

	e, err := setup(f.globalFlags)
	if err != nil {
		return err
	}
	defer e.close()
	if f.provider != "" {
		e.cfg.Translate.Provider = f.provider
	}
	if f.model != "" {
		e.cfg.Translate.Model = f.model
	}
	if err := e.cfg.Validate(); err != nil {
		return withCode(exitCodeBadInput, err)
	}

	res, err := translate.Translate(ctx, raw, ct, translate.Options{
		Provider:    e.cfg.Translate.Provider,
		Model:       e.cfg.Translate.Model,
		MaxTokens:   e.cfg.Translate.MaxTokens,
		Temperature: e.cfg.Translate.Temperature,
		Retry:       e.cfg.RetryPolicy(),
		Logger:      e.log,
		Observer:    e.metrics,
	})
	// A rejected translation still counts its violations.
	if res != nil {
		e.metrics.ObserveArray(ct, res.Validation)
	}
	if err != nil {
		if werr := writeMetrics(e, f.metricsOut); werr != nil {
			e.log.Warn("write metrics", zap.Error(werr))
		}
		return translateError(res, ct, err)
	}
	e.log.Info("translated payload",
		zap.String("type", string(ct)),
		zap.Int("cards", len(res.Cards)),
		zap.Int("calls", res.Calls),
		zap.Bool("repaired", res.Repaired))

	if f.publish {
		p, err := e.publisher()
		if err != nil {
			return err
		}
		_, perr := p.Publish(ctx, ct, res.Cards, res.Validation)
		if cerr := p.Close(); cerr != nil {
			e.log.Warn("close publisher", zap.Error(cerr))
		}
		if perr != nil {
			return withCode(exitCodeAPIError, perr)
		}
	}

	var out []byte
	if f.format == "json" {
		if out, err = json.MarshalIndent(res.Cards, "", "  "); err != nil {
			return fmt.Errorf("marshal cards: %w", err)
		}
	} else {
		out = []byte(render.BatchMarkdown(ct, &res.Validation))
	}
	if err := writeOutput(f.out, out); err != nil {
		return err
	}
	return writeMetrics(e, f.metricsOut)
}

func translateError(res *translate.Result, ct schema.CardType, err error) error {
	var pe *retry.ProviderError
	switch {
	case errors.Is(err, translate.ErrInvalidModelOutput):
		if res != nil {
			fmt.Fprint(os.Stderr, render.BatchMarkdown(ct, &res.Validation))
		}
		return withCode(exitCodeBadOutput, err)
	case errors.As(err, &pe):
		return withCode(exitCodeAPIError, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		// Provider construction failures, e.g. a missing API key.
		return withCode(exitCodeAPIError, err)
	}
}

func readPayload(path string) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("read payload: %s is empty", path)
	}
	return b, nil
}

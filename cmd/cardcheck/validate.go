package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/cardcheck/internal/input"
	"github.com/dshills/cardcheck/internal/render"
	"github.com/dshills/cardcheck/internal/report"
	"github.com/dshills/cardcheck/internal/schema"
	"github.com/dshills/cardcheck/internal/validator"
)

type validateFlags struct {
	globalFlags
	path       string
	cardType   string
	format     string
	out        string
	ignore     []string
	workers    int
	publish    bool
	metricsOut string
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	var f validateFlags
	cmd := &cobra.Command{
		Use:   "validate FILE|DIR",
		Short: "Validate card files and print per-card violations",
		Long: `Validate decodes every .json/.yaml/.yml file under the path and checks each
card against its registered shape. The card type comes from the file name
(flights.json), from a document keyed by type, from a shared "type" field,
or from --type. Exits 2 when any batch contains a card with a critical
violation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.globalFlags = *g
			f.path = args[0]
			return runValidate(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.cardType, "type", "", "Card type for files whose type cannot be inferred (flight, place, transit)")
	cmd.Flags().StringVar(&f.format, "format", "md", "Output format: json or md")
	cmd.Flags().StringVar(&f.out, "out", "", "Write output to file instead of stdout")
	cmd.Flags().StringSliceVar(&f.ignore, "ignore", nil, "Additional directory names to skip")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Override validator.workers")
	cmd.Flags().BoolVar(&f.publish, "publish", false, "Publish cards to Kafka (valid to kafka.topic, invalid to kafka.dlq_topic)")
	cmd.Flags().StringVar(&f.metricsOut, "metrics-out", "", "Write Prometheus metrics in text format to file")
	return cmd
}

func runValidate(ctx context.Context, f validateFlags) error {
	if f.path == "" {
		return badInput("a file or directory is required")
	}
	if err := checkFormat(f.format); err != nil {
		return err
	}
	var fallback schema.CardType
	if f.cardType != "" {
		ct, err := schema.ParseCardType(f.cardType)
		if err != nil {
			return withCode(exitCodeBadInput, err)
		}
		fallback = ct
	}

	e, err := setup(f.globalFlags)
	if err != nil {
		return err
	}
	defer e.close()
	if f.workers > 0 {
		e.cfg.Validator.Workers = f.workers
	}

	groups, err := loadGroups(f.path, f.ignore, fallback)
	if err != nil {
		return err
	}
	results := validateGroups(e, groups)

	if f.publish {
		p, err := e.publisher()
		if err != nil {
			return err
		}
		perr := publishAll(ctx, p, groups, results)
		cerr := p.Close()
		if perr != nil {
			return perr
		}
		if cerr != nil {
			e.log.Warn("close publisher", zap.Error(cerr))
		}
	}

	var out []byte
	if f.format == "json" {
		if out, err = render.ResultsJSON(results); err != nil {
			return err
		}
	} else {
		out = []byte(render.ResultsMarkdown(results))
	}
	if err := writeOutput(f.out, out); err != nil {
		return err
	}
	if err := writeMetrics(e, f.metricsOut); err != nil {
		return err
	}

	for _, ct := range report.OrderedTypes(results) {
		if !results[ct].IsValid {
			return withCode(exitCodeFailOn, errors.New(string(ct)+" cards failed validation"))
		}
	}
	return nil
}

// loadGroups reads path and groups the decoded cards by type. Load and
// grouping failures are bad input.
func loadGroups(path string, ignore []string, fallback schema.CardType) (map[schema.CardType]any, error) {
	batches, err := input.Load(path, ignore)
	if err != nil {
		return nil, withCode(exitCodeBadInput, err)
	}
	if len(batches) == 0 {
		return nil, badInput("no card files found in %s", path)
	}
	groups, err := input.Group(batches, fallback)
	if err != nil {
		return nil, withCode(exitCodeBadInput, err)
	}
	return groups, nil
}

func validateGroups(e *env, groups map[schema.CardType]any) map[schema.CardType]schema.ArrayResult {
	v := validator.New(validator.WithWorkers(e.cfg.Validator.Workers))
	results := make(map[schema.CardType]schema.ArrayResult, len(groups))
	for ct, cards := range groups {
		r := v.ValidateCardArray(cards, ct)
		results[ct] = r
		e.metrics.ObserveArray(ct, r)
		e.log.Info("validated batch",
			zap.String("type", string(ct)),
			zap.Int("total", r.TotalCards),
			zap.Int("valid", r.ValidCards),
			zap.Int("critical", r.CriticalErrors),
			zap.Int("warnings", r.Warnings))
	}
	return results
}

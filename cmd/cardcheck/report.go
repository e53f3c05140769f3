package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/cardcheck/internal/input"
	"github.com/dshills/cardcheck/internal/render"
	"github.com/dshills/cardcheck/internal/report"
	"github.com/dshills/cardcheck/internal/schema"
)

type reportFlags struct {
	globalFlags
	sources    map[schema.CardType]string
	paths      []string
	failOn     string
	format     string
	out        string
	workers    int
	publish    bool
	metricsOut string
}

// now is replaced in tests.
var now = time.Now

func newReportCmd(g *globalFlags) *cobra.Command {
	var (
		f                       reportFlags
		flight, place, transit string
	)
	cmd := &cobra.Command{
		Use:   "report [FILE|DIR...]",
		Short: "Validate every card type and produce a compliance report",
		Long: `Report validates the cards given by --flight, --place and --transit (and any
positional files or directories, typed the same way validate types them)
and aggregates the results into a compliance report.

With --fail-on STATUS the command exits 2 when the overall status is at or
beyond STATUS, in the order FULLY_COMPLIANT < MOSTLY_COMPLIANT <
NON_COMPLIANT_WARNINGS < NON_COMPLIANT_CRITICAL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.globalFlags = *g
			f.paths = args
			f.sources = map[schema.CardType]string{}
			for ct, p := range map[schema.CardType]string{schema.TypeFlight: flight, schema.TypePlace: place, schema.TypeTransit: transit} {
				if p != "" {
					f.sources[ct] = p
				}
			}
			return runReport(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&flight, "flight", "", "Flight cards file or directory")
	cmd.Flags().StringVar(&place, "place", "", "Place cards file or directory")
	cmd.Flags().StringVar(&transit, "transit", "", "Transit cards file or directory")
	cmd.Flags().StringVar(&f.failOn, "fail-on", "", "Exit 2 when the status reaches this level (defaults to report.fail_on)")
	cmd.Flags().StringVar(&f.format, "format", "json", "Output format: json or md")
	cmd.Flags().StringVar(&f.out, "out", "", "Write output to file instead of stdout")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Override validator.workers")
	cmd.Flags().BoolVar(&f.publish, "publish", false, "Publish cards to Kafka (valid to kafka.topic, invalid to kafka.dlq_topic)")
	cmd.Flags().StringVar(&f.metricsOut, "metrics-out", "", "Write Prometheus metrics in text format to file")
	return cmd
}

func runReport(ctx context.Context, f reportFlags) error {
	if len(f.sources) == 0 && len(f.paths) == 0 {
		return badInput("no cards given: use --flight, --place, --transit or a path")
	}
	if err := checkFormat(f.format); err != nil {
		return err
	}

	e, err := setup(f.globalFlags)
	if err != nil {
		return err
	}
	defer e.close()
	if f.workers > 0 {
		e.cfg.Validator.Workers = f.workers
	}

	failOn := f.failOn
	if failOn == "" {
		failOn = e.cfg.Report.FailOn
	}
	var threshold schema.Status
	if failOn != "" {
		if threshold, err = schema.ParseStatus(failOn); err != nil {
			return withCode(exitCodeBadInput, fmt.Errorf("--fail-on: %w", err))
		}
	}

	groups, err := loadSources(f.sources, f.paths)
	if err != nil {
		return err
	}
	results := validateGroups(e, groups)

	runID := uuid.NewString()
	if f.publish {
		p, err := e.publisher()
		if err != nil {
			return err
		}
		runID = p.RunID()
		perr := publishAll(ctx, p, groups, results)
		cerr := p.Close()
		if perr != nil {
			return perr
		}
		if cerr != nil {
			e.log.Warn("close publisher", zap.Error(cerr))
		}
	}

	rep := report.BuildComplianceReport(results, now())
	rep.RunID = runID
	e.metrics.ObserveReport(rep)
	e.log.Info("compliance report",
		zap.String("run_id", runID),
		zap.String("status", string(rep.OverallCompliance.Status)),
		zap.String("rate", rep.Summary.ComplianceMetrics.ComplianceRate))

	var out []byte
	if f.format == "json" {
		if out, err = render.ReportJSON(&rep); err != nil {
			return err
		}
	} else {
		out = []byte(render.ReportMarkdown(&rep))
	}
	if err := writeOutput(f.out, out); err != nil {
		return err
	}
	if err := writeMetrics(e, f.metricsOut); err != nil {
		return err
	}

	if threshold != "" && report.StatusOrdinal(rep.OverallCompliance.Status) >= report.StatusOrdinal(threshold) {
		return withCode(exitCodeFailOn, fmt.Errorf("status %s reached --fail-on %s", rep.OverallCompliance.Status, threshold))
	}
	return nil
}

// loadSources loads the per-type sources, typing untyped documents by the
// flag they came from, then the positional paths.
func loadSources(sources map[schema.CardType]string, paths []string) (map[schema.CardType]any, error) {
	var batches []input.Batch
	for _, ct := range schema.CardTypes {
		path, ok := sources[ct]
		if !ok {
			continue
		}
		bs, err := input.Load(path, nil)
		if err != nil {
			return nil, withCode(exitCodeBadInput, err)
		}
		if len(bs) == 0 {
			return nil, badInput("no card files found in %s", path)
		}
		for i := range bs {
			if bs[i].Type == "" {
				bs[i].Type = ct
			}
		}
		batches = append(batches, bs...)
	}
	for _, path := range paths {
		bs, err := input.Load(path, nil)
		if err != nil {
			return nil, withCode(exitCodeBadInput, err)
		}
		batches = append(batches, bs...)
	}
	if len(batches) == 0 {
		return nil, badInput("no card files found")
	}
	groups, err := input.Group(batches, "")
	if err != nil {
		return nil, withCode(exitCodeBadInput, err)
	}
	return groups, nil
}

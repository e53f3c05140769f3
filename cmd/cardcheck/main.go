package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/cardcheck/internal/config"
	"github.com/dshills/cardcheck/internal/logging"
	"github.com/dshills/cardcheck/internal/metrics"
	"github.com/dshills/cardcheck/internal/schema"
	"github.com/dshills/cardcheck/internal/sink"
)

const (
	exitCodeInternal  = 1
	exitCodeFailOn    = 2
	exitCodeBadInput  = 3
	exitCodeAPIError  = 4
	exitCodeBadOutput = 5
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error { return &exitError{code: code, err: err} }

func badInput(format string, args ...any) error {
	return withCode(exitCodeBadInput, fmt.Errorf(format, args...))
}

// globalFlags are the persistent root flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	var g globalFlags
	root := &cobra.Command{
		Use:           "cardcheck",
		Short:         "Shape validation and compliance reporting for canonical travel cards",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file (CARDCHECK_* env vars also apply)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	root.AddCommand(newValidateCmd(&g), newReportCmd(&g), newTranslateCmd(&g))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cardcheck:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitCodeInternal
}

// env is the per-invocation runtime shared by the commands.
type env struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Collector
}

func setup(g globalFlags) (*env, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, withCode(exitCodeBadInput, err)
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, withCode(exitCodeBadInput, err)
	}
	return &env{cfg: cfg, log: log, metrics: metrics.NewCollector(nil)}, nil
}

func (e *env) close() { _ = e.log.Sync() }

// cardPublisher is the part of *sink.Publisher the commands use.
type cardPublisher interface {
	Publish(ctx context.Context, ct schema.CardType, cards []any, res schema.ArrayResult) (sink.Stats, error)
	RunID() string
	Close() error
}

// openPublisher is replaced in tests.
var openPublisher = func(cfg sink.Config, opts ...sink.Option) (cardPublisher, error) {
	p, err := sink.NewPublisher(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (e *env) publisher() (cardPublisher, error) {
	p, err := openPublisher(e.cfg.Kafka, sink.WithLogger(e.log), sink.WithObserver(e.metrics))
	if err != nil {
		return nil, withCode(exitCodeBadInput, err)
	}
	return p, nil
}

// publishAll sends every batch that decoded to a card list.
func publishAll(ctx context.Context, p cardPublisher, groups map[schema.CardType]any, results map[schema.CardType]schema.ArrayResult) error {
	for _, ct := range schema.CardTypes {
		res, ok := results[ct]
		if !ok {
			continue
		}
		cards, ok := groups[ct].([]any)
		if !ok {
			continue
		}
		if _, err := p.Publish(ctx, ct, cards, res); err != nil {
			return withCode(exitCodeAPIError, err)
		}
	}
	return nil
}

func checkFormat(format string) error {
	switch format {
	case "json", "md":
		return nil
	}
	return badInput("unknown format %q (want json or md)", format)
}

// writeOutput writes data to path, or stdout when path is empty.
func writeOutput(path string, data []byte) error {
	if !strings.HasSuffix(string(data), "\n") {
		data = append(data, '\n')
	}
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func writeMetrics(e *env, path string) error {
	if path == "" {
		return nil
	}
	if err := e.metrics.WriteToTextfile(path); err != nil {
		return err
	}
	e.log.Debug("metrics written", zap.String("path", path))
	return nil
}

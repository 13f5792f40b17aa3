// Package main is the composition root for the trading runtime: it parses
// the CLI surface, builds the logger and configuration, checks the live
// safety gate, wires the engine to its ports, and runs one of the
// backtest|paper|live subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/adapters/backtest"
	"github.com/atlas-desktop/trading-runtime/internal/analytics"
	"github.com/atlas-desktop/trading-runtime/internal/artifacts"
	"github.com/atlas-desktop/trading-runtime/internal/engine"
	"github.com/atlas-desktop/trading-runtime/internal/policy"
	"github.com/atlas-desktop/trading-runtime/internal/safety"
	"github.com/atlas-desktop/trading-runtime/internal/statusapi"
	"github.com/atlas-desktop/trading-runtime/internal/strategy"
	"github.com/atlas-desktop/trading-runtime/pkg/utils"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Exit codes from the spec's CLI surface.
const (
	exitSuccess             = 0
	exitInvalidInput        = 2
	exitStrategyLoadFailure = 3
	exitSafetyGateFailure   = 4
	exitRuntimeError        = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	runStart := time.Now()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: runtimed <backtest|paper|live> [flags]")
		return exitInvalidInput
	}
	mode := args[0]
	if mode != "backtest" && mode != "paper" && mode != "live" {
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", mode)
		return exitInvalidInput
	}

	fs := flag.NewFlagSet(mode, flag.ContinueOnError)
	strategyName := fs.String("strategy", "", "registered strategy name")
	symbolsCSV := fs.String("symbols", "", "comma-separated symbol universe")
	startStr := fs.String("start", "", "RFC3339 start timestamp")
	endStr := fs.String("end", "", "RFC3339 end timestamp")
	lookback := fs.String("lookback", "", `lookback window (e.g. "7d", "1mo") ending at --end, used in place of --start`)
	dataDir := fs.String("data", "./data", "historical bar data directory")
	outDir := fs.String("out", "./runs", "artifact output directory")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	configFile := fs.String("config", "", "optional config file (yaml/json/toml) read by viper")
	statusAddr := fs.String("status-addr", "127.0.0.1:8090", "status API bind address")
	if err := fs.Parse(args[1:]); err != nil {
		return exitInvalidInput
	}

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	v := viper.New()
	v.SetEnvPrefix("RUNTIMED")
	v.AutomaticEnv()
	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			logger.Error("failed to read config file", zap.Error(err))
			return exitInvalidInput
		}
	}

	if *strategyName == "" || *symbolsCSV == "" || *endStr == "" || (*startStr == "" && *lookback == "") {
		fmt.Fprintln(os.Stderr, "--strategy, --symbols, --end, and one of --start or --lookback are required")
		return exitInvalidInput
	}
	end, err := time.Parse(time.RFC3339, *endStr)
	if err != nil {
		logger.Error("invalid --end", zap.Error(err))
		return exitInvalidInput
	}
	var start time.Time
	if *startStr != "" {
		start, err = time.Parse(time.RFC3339, *startStr)
		if err != nil {
			logger.Error("invalid --start", zap.Error(err))
			return exitInvalidInput
		}
	} else {
		window, err := utils.ParseTimeRange(*lookback)
		if err != nil {
			logger.Error("invalid --lookback", zap.Error(err))
			return exitInvalidInput
		}
		start = end.Add(-window)
	}

	symbols := strings.Split(*symbolsCSV, ",")
	normalized := make([]string, len(symbols))
	for i, s := range symbols {
		normalized[i] = utils.FormatSymbol(s)
	}
	logger.Info("resolved symbol universe", zap.Strings("symbols", symbols), zap.Strings("normalized", normalized))

	if mode == "live" {
		gate := safety.New(logger, safety.ModeHardFail)
		if err := gate.Check("composition_root"); err != nil {
			logger.Error("live safety gate failed", zap.Error(err))
			return exitSafetyGateFailure
		}
	}

	registry := strategy.NewRegistry()
	bundleFactory, ok := registry.Resolve(*strategyName)
	if !ok {
		logger.Error("unknown strategy", zap.String("strategy", *strategyName))
		return exitStrategyLoadFailure
	}
	bundle := bundleFactory()
	policies := policy.Merge(policy.DefaultPolicies(), bundle.Overrides)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	writer := artifacts.New(logger, *outDir)
	status := statusapi.NewServer(logger, statusapi.Config{Addr: *statusAddr})
	go func() {
		if err := status.Start(); err != nil {
			logger.Error("status api stopped", zap.Error(err))
		}
	}()
	defer status.Stop(context.Background())

	switch mode {
	case "backtest":
		if err := runBacktest(ctx, logger, bundle, policies, symbols, start, end, *dataDir, writer, status); err != nil {
			logger.Error("backtest run failed", zap.Error(err))
			return exitRuntimeError
		}
	default:
		logger.Error("mode not yet wired to a live/paper broker adapter", zap.String("mode", mode))
		return exitRuntimeError
	}

	if err := writer.Flush(); err != nil {
		logger.Error("failed to flush artifacts", zap.Error(err))
		return exitRuntimeError
	}
	logger.Info("run complete", zap.String("elapsed", utils.FormatDuration(time.Since(runStart))))
	return exitSuccess
}

func runBacktest(
	ctx context.Context,
	logger *zap.Logger,
	bundle strategy.Bundle,
	policies policy.Defaults,
	symbols []string,
	start, end time.Time,
	dataDir string,
	writer *artifacts.Writer,
	status *statusapi.Server,
) error {
	dataSource := backtest.NewDataSource(logger, dataDir)
	clock := backtest.NewClock()
	broker := backtest.NewBroker(logger, clock, policies.Cost)

	strat := bundle.Build()
	eng := engine.NewSingleStrategyEngine(engine.SingleStrategyConfig{
		Logger:       logger,
		Broker:       broker,
		Notifier:     status,
		StartingCash: startingCashUnit,
		Policies:     policies,
		Writer:       writer,
		Strategy:     strat,
		StrategyName: bundle.Meta.Name,
		SizingMethod: policy.SizingFixedFractional,
		Now:          clock.Now,
	})

	var equityCurve []decimal.Decimal
	var lastBarTs time.Time

	for _, symbol := range symbols {
		bars, err := dataSource.LoadHistoricalBars(ctx, symbol, start, end, bundle.Meta.Timeframe)
		if err != nil {
			return fmt.Errorf("load bars for %s: %w", symbol, err)
		}
		for _, bar := range bars {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			clock.Advance(bar.Ts)
			broker.SetCurrentBar(bar)
			status.SetStatus(statusapi.RunStatus{
				Mode: "backtest", Strategy: bundle.Meta.Name, LastBarTs: bar.Ts, StartedAt: start,
			})
			if err := eng.ProcessBar(ctx, bar); err != nil {
				return fmt.Errorf("process bar %s/%s: %w", symbol, bar.Ts, err)
			}
			lastBarTs = bar.Ts
			equityCurve = append(equityCurve, eng.Equity(bar.Ts))
		}
	}

	if err := strat.Finalize(); err != nil {
		return fmt.Errorf("strategy finalize: %w", err)
	}

	finalEquity := startingCashUnit
	if len(equityCurve) > 0 {
		finalEquity = eng.Equity(lastBarTs)
	}
	summary := analytics.SummarizeTrades(eng.RealizedPnLs(), equityCurve, startingCashUnit, finalEquity)
	summary.Log(logger, startingCashUnit, finalEquity, "USD")
	return nil
}

// startingCashUnit is the backtest's starting cash; a real deployment would
// source this from config instead.
var startingCashUnit = decimal.NewFromInt(100_000)

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

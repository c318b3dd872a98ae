// Command scenario runs one or more YAML scenario documents through the
// engine and prints the integrated results as JSON.
//
//	scenario [-config netopt.yaml] [-data ./inputs] [-parallel 2] east.yaml west.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"netopt/internal/apperr"
	"netopt/internal/config"
	"netopt/internal/integrations"
	"netopt/internal/integrations/csvfile"
	"netopt/internal/logging"
	"netopt/internal/model"
	"netopt/internal/scenario"
)

type output struct {
	File      string                     `json:"file"`
	Result    *model.IntegratedRunResult `json:"result,omitempty"`
	Error     string                     `json:"error,omitempty"`
	ErrorKind apperr.Kind                `json:"errorKind,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "path to netopt.yaml")
	dataDir := flag.String("data", "", "directory with baseline.csv, demand.csv and forecast.csv filling inputs a scenario omits")
	parallel := flag.Int("parallel", 0, "scenarios run at once (0 = runs.workers)")
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: scenario [flags] <scenario.yaml>...")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	outs, failed := run(ctx, cfg, logger, flag.Args(), *dataDir, *parallel)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outs); err != nil {
		logger.Error("encode results", zap.Error(err))
		os.Exit(1)
	}
	if failed {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, files []string, dataDir string, parallel int) ([]output, bool) {
	outs := make([]output, len(files))
	var (
		scs []scenario.Scenario
		idx []int
	)
	for i, f := range files {
		outs[i].File = f
		sc, err := scenario.LoadFile(f)
		if err == nil && dataDir != "" {
			err = integrations.Apply(ctx, csvfile.New(dataDir), &sc)
		}
		if err != nil {
			outs[i].Error, outs[i].ErrorKind = err.Error(), apperr.KindOf(err)
			continue
		}
		if sc.Name == "" {
			sc.Name = f
		}
		scs = append(scs, sc)
		idx = append(idx, i)
	}

	if parallel <= 0 {
		parallel = cfg.Runs.Workers
	}
	runner := &scenario.Runner{Logger: logger, Defaults: cfg.ScenarioDefaults()}
	results, errs := runner.RunBatch(ctx, scs, parallel)
	failed := false
	for k, i := range idx {
		if errs[k] != nil {
			outs[i].Error, outs[i].ErrorKind = errs[k].Error(), apperr.KindOf(errs[k])
			continue
		}
		res := results[k]
		outs[i].Result = &res
	}
	for _, o := range outs {
		if o.Error != "" {
			failed = true
		}
	}
	return outs, failed
}

/*
 *
 * browser-perfbudget - performance budget checks driven by a real browser
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Command perfbudget runs the cold, cool, warm and hot cache scenarios of a
// page and checks them against performance budgets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/grafana/browser-perfbudget/browser"
	"github.com/grafana/browser-perfbudget/browserprocess"
	"github.com/grafana/browser-perfbudget/config"
	"github.com/grafana/browser-perfbudget/internal/demosite"
	"github.com/grafana/browser-perfbudget/log"
	"github.com/grafana/browser-perfbudget/metrics"
	"github.com/grafana/browser-perfbudget/otel"
	"github.com/grafana/browser-perfbudget/perf"
	"github.com/grafana/browser-perfbudget/storage"
	"github.com/grafana/browser-perfbudget/telemetry"
	"github.com/grafana/browser-perfbudget/trace"
)

type flags struct {
	suitePath   string
	envFile     string
	navigator   string
	demo        bool
	reportPath  string
	metricsFile string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("perfbudget", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var f flags
	fs.StringVar(&f.suitePath, "config", "", "suite file (YAML or JSON)")
	fs.StringVar(&f.envFile, "env", ".env", "dotenv file loaded before the environment is read")
	fs.StringVar(&f.navigator, "navigator", "", `"browser" or "http", overrides PERFBUDGET_NAVIGATOR`)
	fs.BoolVar(&f.demo, "demo", false, "measure the built-in demo site")
	fs.StringVar(&f.reportPath, "report", "", "write the JSON report to this file")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "loading %s: %v\n", f.envFile, err)
		return 2
	}
	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runID := uuid.NewString()
	ctx = browserprocess.WithRunID(ctx, runID)

	report, err := runSuite(ctx, cfg, f, logger)
	if ctx.Err() != nil {
		// the browser may not get the chance to close gracefully
		browserprocess.ForceProcessShutdown(ctx)
	}
	if report != nil {
		printReport(stdout, report)
		if werr := writeOutputs(ctx, cfg, report); werr != nil {
			logger.Errorf("perfbudget", "%v", werr)
			err = errors.Join(err, werr)
		}
	}
	switch {
	case err != nil:
		logger.Errorf("perfbudget", "run %s failed: %v", runID, err)
		return 1
	case !report.Passed():
		return 1
	}
	return 0
}

func loadConfig(f flags) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if f.navigator != "" {
		cfg.Navigator = f.navigator
	}
	if f.reportPath != "" {
		cfg.ReportPath = f.reportPath
	}
	if f.metricsFile != "" {
		cfg.MetricsFile = f.metricsFile
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config, out io.Writer) (*log.Logger, error) {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	logger := log.New(l, nil)
	if err := logger.SetCategoryFilter(cfg.LogCategoryFilter); err != nil {
		return nil, err
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return logger, nil
}

// runSuite opens the navigator and runs the suite. A report is returned
// whenever the suite started.
func runSuite(ctx context.Context, cfg config.Config, f flags, logger *log.Logger) (*perf.Report, error) {
	suite, baseURL, err := loadSuite(f, cfg)
	if err != nil {
		return nil, err
	}

	if f.demo {
		if !logger.DebugMode() {
			gin.SetMode(gin.ReleaseMode)
		}
		site, err := demosite.New(ctx, logger)
		if err != nil {
			return nil, fmt.Errorf("starting demo site: %w", err)
		}
		defer site.Close() //nolint:errcheck
		srv := httptest.NewServer(site.Handler())
		defer srv.Close()
		baseURL = srv.URL
		logger.Infof("perfbudget", "demo site listening on %s", baseURL)
	}
	if baseURL == "" {
		return nil, errors.New("no site to measure: set PERFBUDGET_BASE_URL, base_url in the suite file, or -demo")
	}

	tp, err := otel.Setup(ctx, otel.Options{
		Endpoint:  cfg.TracesEndpoint,
		Proto:     cfg.TracesProto,
		Insecure:  cfg.TracesInsecure,
		RunID:     browserprocess.GetRunID(ctx),
		Navigator: cfg.Navigator,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	if tp.Exporting() {
		logger.Debugf("perfbudget", "exporting traces to %s", cfg.TracesEndpoint)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warnf("perfbudget", "shutting down trace provider: %v", err)
		}
	}()
	tracer := trace.NewTracer(logger, tp, map[string]string{
		"run.id":    browserprocess.GetRunID(ctx),
		"navigator": cfg.Navigator,
	})

	session, err := browser.Open(ctx, cfg, baseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s navigator: %w", cfg.Navigator, err)
	}
	defer func() {
		if err := session.Close(context.Background()); err != nil {
			logger.Warnf("perfbudget", "closing navigator: %v", err)
		}
	}()

	client := telemetry.NewClient(baseURL, nil)
	runner := perf.NewRunner(session, client, perf.NewCollector(client, session, logger),
		perf.WithRebuilder(client),
		perf.WithTracer(tracer),
		perf.WithLogger(logger),
	)

	logger.Infof("perfbudget", "measuring %s%s with the %s navigator", baseURL, suite.Target.Path, session.Kind())
	return runner.RunSuite(session.Context(ctx), suite)
}

// loadSuite returns the suite to run and the base URL it names, if any.
// Without a suite file only the demo site can be measured.
func loadSuite(f flags, cfg config.Config) (perf.Suite, string, error) {
	if f.suitePath == "" {
		if !f.demo {
			return perf.Suite{}, "", errors.New("a suite file is required unless -demo is set")
		}
		return demoSuite(), cfg.BaseURL, nil
	}

	sf, err := config.LoadSuiteFile(f.suitePath)
	if err != nil {
		return perf.Suite{}, "", err
	}
	suite, err := sf.ToSuite()
	if err != nil {
		return perf.Suite{}, "", fmt.Errorf("suite %s: %w", f.suitePath, err)
	}
	return suite, sf.BaseURLOr(cfg.BaseURL), nil
}

func demoSuite() perf.Suite {
	return perf.Suite{
		Target:       demosite.Target(),
		Label:        "nodePage",
		Budgets:      map[perf.Temperature]perf.Budget{perf.Hot: perf.ReferenceHotBudget()},
		VerifyStable: true,
	}
}

func writeOutputs(ctx context.Context, cfg config.Config, report *perf.Report) error {
	var errs []error
	if cfg.ReportPath != "" {
		if err := storage.PersistJSON(ctx, &storage.LocalFilePersister{}, cfg.ReportPath, report); err != nil {
			errs = append(errs, fmt.Errorf("writing report: %w", err))
		}
	}
	if cfg.MetricsFile != "" {
		m := metrics.New()
		m.ObserveReport(report)
		if err := m.WriteToTextfile(cfg.MetricsFile); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

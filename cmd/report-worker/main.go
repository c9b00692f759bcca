package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"budgetwatch/internal/backend"
	"budgetwatch/internal/cli"
	"budgetwatch/internal/core"
	applog "budgetwatch/internal/log"
	gsheet "budgetwatch/internal/sheets/google"
	"budgetwatch/internal/services"
	"budgetwatch/internal/spendcache"
	"budgetwatch/internal/worker"
)

var version = "dev"

func main() {
	once := flag.Bool("once", false, "generate reports for one month and exit")
	monthFlag := flag.String("month", "", "month to generate as YYYY-MM (default: previous month)")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	flush := cli.SetupSentry(logger, cfg.SentryDSN, "budgetwatch-report-worker@"+version)
	defer flush()

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid report timezone", "error", err)
		os.Exit(1)
	}

	var month core.MonthKey
	if *monthFlag != "" {
		month, err = core.ParseMonthKey(*monthFlag)
		if err != nil {
			logger.Error("Invalid -month flag", "error", err, "month", *monthFlag)
			os.Exit(1)
		}
		*once = true
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize storage backend", "error", err, "backend", backendCfg.Type)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Storage close error", "error", err)
		}
	}()

	var sink worker.ReportSink
	if cfg.SheetsEnabled() {
		sheets, err := gsheet.New(context.Background(), gsheet.Config{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			SheetName:          cfg.GoogleReportsSheetName,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", applog.FieldComponent, applog.ComponentSheets, "error", err)
			os.Exit(1)
		}
		sink = sheets
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	snapshotter := services.NewReportSnapshotter(res.Store, spendcache.New())
	reportWorker := worker.NewReportWorker(res.Store, snapshotter, sink, cfg.ReportConcurrency)

	if *once {
		if month == "" {
			month = worker.PreviousMonth(time.Now().In(loc))
		}
		if _, err := reportWorker.RunMonth(context.Background(), month); err != nil {
			logger.Error("Report run failed", "error", err, "month", month)
			os.Exit(1)
		}
		return
	}

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, nil)

	c := cron.New(cron.WithLocation(loc), cron.WithSeconds())
	_, err = c.AddFunc(cfg.ReportSchedule, func() {
		target := worker.PreviousMonth(time.Now().In(loc))
		if _, err := reportWorker.RunMonth(ctx, target); err != nil {
			logger.Error("Scheduled report run failed", "error", err, "month", target)
		}
	})
	if err != nil {
		logger.Error("Invalid report schedule", "error", err, "schedule", cfg.ReportSchedule)
		os.Exit(1)
	}
	c.Start()
	logger.Info("Report worker started",
		"version", version,
		"schedule", cfg.ReportSchedule,
		"timezone", loc.String(),
		applog.FieldOperation, applog.OpStartup)

	cli.WaitForShutdown(ctx, done)
	// Wait for an in-flight run to observe cancellation.
	<-c.Stop().Done()
	logger.Info("Report worker stopped")
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/chmdznr/template-file-migrator/internal/archive"
	"github.com/chmdznr/template-file-migrator/internal/config"
	"github.com/chmdznr/template-file-migrator/internal/db"
	"github.com/chmdznr/template-file-migrator/internal/logger"
	"github.com/chmdznr/template-file-migrator/internal/migrate"
	"github.com/chmdznr/template-file-migrator/internal/report"
	"github.com/chmdznr/template-file-migrator/internal/salesforce"
	"github.com/chmdznr/template-file-migrator/pkg/utils"
)

func newPipeline(log *zap.Logger, cfg *config.Config, ledger *db.DB) *migrate.Pipeline {
	provider := salesforce.NewProvider(log,
		cfg.Session.APIVersion,
		cfg.Session.CallTimeout.Duration,
		cfg.Session.RequestsPerSecond)

	pcfg := migrate.Config{
		Records:      migrate.Records(cfg.Records),
		FetchWorkers: cfg.FetchWorkers,
	}
	if ledger != nil {
		pcfg.Ledger = ledger
	}
	return migrate.NewPipeline(log, migrate.FromProvider(provider), pcfg)
}

// runMigrate performs one migration run.
//
// The audit archive is stored whenever the run got as far as transferring,
// including runs that failed or partially failed. A partially failed run
// exits with status 2.
func runMigrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := promptPassword(source, &cfg.Source); err != nil {
		return err
	}
	if err := promptPassword(target, &cfg.Target); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(c.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	var ledger *db.DB
	if cfg.Ledger != "" {
		ledger, err = db.New(cfg.Ledger)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %v", err)
		}
		defer ledger.Close()
	}

	ctx := c.Context
	pipeline := newPipeline(log, cfg, ledger)
	rc := migrate.NewRunContext()
	params := migrate.Params{
		Source: cfg.Source,
		Target: cfg.Target,
		Names:  c.StringSlice("name"),
	}

	if len(params.Names) > 0 {
		if err := checkNames(ctx, pipeline, rc, cfg.Source, params.Names); err != nil {
			return err
		}
	}

	if !c.Bool("yes") {
		prompt := fmt.Sprintf("Upload template files from %s to %s?", cfg.Source.Username, cfg.Target.Username)
		if err := confirm(prompt); err != nil {
			return err
		}
	}

	progress := migrate.NewConsoleProgress(os.Stdout)
	result, runErr := pipeline.Run(ctx, rc, params, progress.Observe)

	var group errs.Group
	group.Add(runErr)
	if result.Archive != nil {
		group.Add(storeArchive(ctx, log, cfg, result, ledger))
	}
	if path := c.String("report"); path != "" {
		if err := report.WriteXLSX(path, result); err != nil {
			group.Add(err)
		} else {
			fmt.Printf("Report written to %s\n", path)
		}
	}
	printFailures(result)

	if err := group.Err(); err != nil {
		return err
	}
	if result.State == migrate.StatePartiallyFailed {
		return cli.Exit("", 2)
	}
	return nil
}

func checkNames(ctx context.Context, p *migrate.Pipeline, rc *migrate.RunContext, creds salesforce.Credentials, names []string) error {
	available, err := p.Templates(ctx, rc, creds)
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}
	known := make(map[string]bool, len(available))
	for _, name := range available {
		known[name] = true
	}
	var unknown []string
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown template names: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// storeArchive writes the archive to the local directory and, when
// configured, to MinIO. The local path is recorded in the ledger.
func storeArchive(ctx context.Context, log *zap.Logger, cfg *config.Config, result *migrate.Result, ledger *db.DB) error {
	sinks := []archive.Sink{archive.LocalSink{Dir: cfg.Archive.Dir}}
	if m := cfg.Archive.Minio; m.Enabled() {
		sink, err := archive.NewMinioSink(log, archive.MinioConfig{
			Endpoint:  m.Endpoint,
			Bucket:    m.Bucket,
			Folder:    m.Folder,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Secure:    !m.Insecure,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}

	var group errs.Group
	for i, sink := range sinks {
		location, err := sink.Store(ctx, cfg.Archive.FileName, result.Archive)
		if err != nil {
			group.Add(err)
			continue
		}
		fmt.Printf("Archive (%s) written to %s\n", utils.FormatSize(int64(len(result.Archive))), location)
		if i == 0 && ledger != nil {
			if err := ledger.SetArchivePath(result.RunID, location); err != nil {
				log.Warn("ledger: archive path", zap.Error(err))
			}
		}
	}
	return group.Err()
}

func printFailures(result *migrate.Result) {
	if result.Report == nil || len(result.Report.Failed) == 0 {
		return
	}
	fmt.Printf("\nFailed uploads:\n")
	for _, f := range result.Report.Failed {
		fmt.Printf("- %s (record %s) [%s]: %v\n", f.Item.Filename, f.Item.SourceRecordID, f.Kind, f.Err)
	}
}

func listTemplates(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := promptPassword(source, &cfg.Source); err != nil {
		return err
	}
	if err := cfg.Source.Validate(); err != nil {
		return config.Error.New("source: %v", err)
	}

	log, err := logger.New(c.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	names, err := newPipeline(log, cfg, nil).Templates(c.Context, migrate.NewRunContext(), cfg.Source)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	fmt.Printf("\n%d templates\n", len(names))
	return nil
}

func openLedger(c *cli.Context) (*db.DB, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if cfg.Ledger == "" {
		return nil, fmt.Errorf("no ledger configured")
	}
	ledger, err := db.New(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %v", err)
	}
	return ledger, nil
}

func listRuns(c *cli.Context) error {
	ledger, err := openLedger(c)
	if err != nil {
		return err
	}
	defer ledger.Close()

	runs, err := ledger.ListRuns(c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-16s  %s -> %s\n", "RUN", "STARTED", "STATE", "SOURCE", "TARGET")
	for _, run := range runs {
		fmt.Printf("%-36s  %-20s  %-16s  %s -> %s\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.State,
			run.SourceUser,
			run.TargetUser)
	}
	return nil
}

// showStatus shows the counters of a recorded run and lists its failed items.
func showStatus(c *cli.Context) error {
	ledger, err := openLedger(c)
	if err != nil {
		return err
	}
	defer ledger.Close()

	runID := c.String("run")
	run, err := ledger.GetRun(runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %v", err)
	}
	stats, err := ledger.GetStats(runID)
	if err != nil {
		return fmt.Errorf("failed to get stats: %v", err)
	}

	fmt.Printf("Run: %s\n", run.ID)
	fmt.Printf("State: %s\n", run.State)
	fmt.Printf("Source: %s\n", run.SourceUser)
	fmt.Printf("Target: %s\n", run.TargetUser)
	fmt.Printf("Started: %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Printf("Duration: %s\n", utils.FormatDuration(run.FinishedAt.Sub(run.StartedAt)))
	}
	if run.ArchivePath != "" {
		fmt.Printf("Archive: %s\n", run.ArchivePath)
	}
	if run.Error != "" {
		fmt.Printf("Error: %s\n", run.Error)
	}
	fmt.Printf("Total Files: %d (Size: %s)\n", stats.TotalFiles, utils.FormatSize(stats.TotalSize))
	fmt.Printf("Files Uploaded: %d (Size: %s)\n", stats.UploadedFiles, utils.FormatSize(stats.UploadedSize))
	fmt.Printf("Files Skipped: %d (Size: %s)\n", stats.SkippedFiles, utils.FormatSize(stats.SkippedSize))
	fmt.Printf("Files Failed: %d (Size: %s)\n", stats.FailedFiles, utils.FormatSize(stats.FailedSize))

	if stats.TotalFiles > 0 {
		fileProgress := float64(stats.UploadedFiles) / float64(stats.TotalFiles) * 100
		fmt.Printf("Uploaded: %.2f%% (Files)\n", fileProgress)
	}

	failed, err := ledger.GetFailedItems(runID)
	if err != nil {
		return fmt.Errorf("failed to get failed items: %v", err)
	}
	for _, item := range failed {
		fmt.Printf("- %s (record %s) [%s]: %s\n", item.Filename, item.SourceRecordID, item.FailureKind, item.Error)
	}
	return nil
}

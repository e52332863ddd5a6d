package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/chmdznr/template-file-migrator/internal/db"
	"github.com/chmdznr/template-file-migrator/internal/migrate"
	"github.com/chmdznr/template-file-migrator/pkg/version"
)

var _ migrate.Ledger = (*db.DB)(nil)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                 "tmig",
		Usage:                "Migrate template file attachments between Salesforce orgs",
		Version:              version.Version,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the TOML configuration file",
				Value:   "tmig.toml",
				EnvVars: []string{"TMIG_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Print(version.String())
					return nil
				},
			},
			{
				Name:  "migrate",
				Usage: "Copy the latest template files from the source org to matching target records",
				Flags: append(append(orgFlags(source), orgFlags(target)...),
					&cli.StringSliceFlag{
						Name:  "name",
						Usage: "Template record name to migrate (repeatable, default all)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of parallel downloads from the source org",
					},
					&cli.StringFlag{
						Name:  "archive-dir",
						Usage: "Directory the audit zip is written to",
					},
					&cli.StringFlag{
						Name:  "report",
						Usage: "Write an xlsx report of the run to this path",
					},
					&cli.StringFlag{
						Name:  "ledger",
						Usage: "Path of the run ledger database",
					},
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Do not ask for confirmation before uploading",
					},
				),
				Action: runMigrate,
			},
			{
				Name:   "templates",
				Usage:  "List template record names in the source org",
				Flags:  orgFlags(source),
				Action: listTemplates,
			},
			{
				Name:  "runs",
				Usage: "List recorded migration runs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "ledger",
						Usage: "Path of the run ledger database",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to show",
						Value: 20,
					},
				},
				Action: listRuns,
			},
			{
				Name:  "status",
				Usage: "Show the items and failures of a recorded run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "run",
						Usage:    "Run id",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "ledger",
						Usage: "Path of the run ledger database",
					},
				},
				Action: showStatus,
			},
		},
	}
}

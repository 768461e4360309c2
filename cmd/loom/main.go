package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/loomci/loom/log"
	"github.com/loomci/loom/loom"
	"github.com/loomci/loom/loom/db"
	"github.com/loomci/loom/workflow"
)

func main() {
	cmd := &cli.Command{
		Name:    "loom",
		Usage:   "single-node CI workflow runner",
		Version: versioninfo.Short(),
		Commands: []*cli.Command{
			serverCommand(),
			validateCommand(),
			runsCommand(),
		},
	}

	ctx := context.Background()
	logger := log.New("loom")
	ctx = log.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "run the loom server",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return loom.Run(ctx)
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "check workflow files for compile errors",
		ArgsUsage: "<file>...",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) == 0 {
				return fmt.Errorf("no workflow files given")
			}

			var raw workflow.RawPipeline
			for _, arg := range args {
				contents, err := os.ReadFile(arg)
				if err != nil {
					return err
				}
				raw = append(raw, workflow.RawWorkflow{Name: arg, Contents: contents})
			}

			// synthetic push trigger; validation needs one to resolve
			// checkout steps
			compiler := workflow.Compiler{
				Trigger: workflow.Trigger{
					Kind: workflow.TriggerKindPush,
					Repo: &workflow.TriggerRepo{
						Name:          "local/validate",
						CloneURL:      ".",
						DefaultBranch: "main",
					},
					Push: &workflow.PushEvent{Ref: "refs/heads/main"},
				},
			}
			compiler.Compile(compiler.Parse(raw))

			for _, w := range compiler.Diagnostics.Warnings {
				fmt.Println(w.String())
			}
			for _, e := range compiler.Diagnostics.Errors {
				fmt.Println(e.String())
			}

			if compiler.Diagnostics.IsErr() {
				return fmt.Errorf("%d error(s)", len(compiler.Diagnostics.Errors))
			}
			return nil
		},
	}
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "list recent pipeline runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Usage: "path to the loom database",
				Value: "loom.db",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "number of runs to show",
				Value: 20,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			d, err := db.Make(cmd.String("db"))
			if err != nil {
				return err
			}
			defer d.Close()

			pipelines, err := d.GetPipelines(int(cmd.Int("limit")))
			if err != nil {
				return err
			}

			for _, p := range pipelines {
				age := p.CreatedAt
				if t, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
					age = humanize.Time(t)
				}
				fmt.Printf("%-36s  %-24s  %-10s  %s\n", p.Id, p.Repo, p.Status, age)
			}
			return nil
		},
	}
}

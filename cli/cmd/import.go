package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// ImportCommand returns the import command group.
func ImportCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Run and inspect two-phase imports",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run one import (acquisition then ingestion)",
				Flags: append(CommonFlags(),
					&cli.StringFlag{
						Name:  "import-id",
						Usage: "Import id; omit to generate a fresh UUID",
					},
					&cli.StringFlag{
						Name:  "source",
						Usage: "Source type: external or internal",
						Value: string(types.SourceExternal),
					},
				),
				Action: importRunAction,
			},
			{
				Name:  "status",
				Usage: "Show one import run",
				Flags: append(CommonFlags(),
					&cli.StringFlag{Name: "import-id", Required: true},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Poll until the run reaches a terminal status",
					},
				),
				Action: importStatusAction,
			},
			{
				Name:  "list",
				Usage: "List import runs, most recent first",
				Flags: append(CommonFlags(),
					&cli.IntFlag{Name: "skip", Value: 0},
					&cli.IntFlag{Name: "top", Value: 20},
				),
				Action: importListAction,
			},
			{
				Name:  "files",
				Usage: "Show per-file reports for one import",
				Flags: append(CommonFlags(),
					&cli.StringFlag{Name: "import-id", Required: true},
				),
				Action: importFilesAction,
			},
		},
	}
}

func importRunAction(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	importID := c.String("import-id")
	if importID == "" {
		importID = uuid.NewString()
	}
	source := types.SourceType(c.String("source"))
	switch source {
	case types.SourceExternal, types.SourceInternal:
	default:
		return cli.Exit(fmt.Sprintf("invalid source type %q", source), 1)
	}

	run, err := app.Orchestrator.Start(c.Context, importID, source)
	if err != nil {
		return err
	}
	if err := printJSON(run); err != nil {
		return err
	}
	if run.Status != types.ImportCompleted {
		return cli.Exit("", 1)
	}
	return nil
}

func importStatusAction(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	importID := c.String("import-id")
	if c.Bool("wait") {
		run, err := app.Reporter.WaitForCompletion(c.Context, importID)
		if err != nil {
			return err
		}
		return printJSON(run)
	}
	run, err := app.Reporter.GetImportReport(c.Context, importID)
	if err != nil {
		return err
	}
	return printJSON(run)
}

func importListAction(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	runs, err := app.Reporter.ListImports(c.Context, c.Int("skip"), c.Int("top"))
	if err != nil {
		return err
	}
	return printJSON(runs)
}

func importFilesAction(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	records, err := app.Reporter.GetFileReports(c.Context, c.String("import-id"))
	if err != nil {
		return err
	}
	return printJSON(records)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

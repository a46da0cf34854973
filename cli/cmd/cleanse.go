package cmd

import (
	"github.com/urfave/cli/v2"
)

// CleanseCommand returns the cleanse command group.
func CleanseCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanse",
		Usage: "Run and inspect cleanse analysis operations",
		Subcommands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run one analysis synchronously and print the result",
				Flags:  CommonFlags(),
				Action: cleanseRunAction,
			},
			{
				Name:   "status",
				Usage:  "Show one cleanse operation",
				Flags:  append(CommonFlags(), &cli.StringFlag{Name: "operation-id", Required: true}),
				Action: cleanseStatusAction,
			},
		},
	}
}

func cleanseRunAction(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	op, err := app.Coordinator.RunAnalysis(c.Context)
	if err != nil {
		return err
	}
	if op == nil {
		return cli.Exit("analysis already running elsewhere (lock held)", 1)
	}
	return printJSON(op)
}

func cleanseStatusAction(c *cli.Context) error {
	app, err := buildApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	op, err := app.Coordinator.GetOperation(c.Context, c.String("operation-id"))
	if err != nil {
		return err
	}
	return printJSON(op)
}

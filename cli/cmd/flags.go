package cmd

import "github.com/urfave/cli/v2"

// CommonFlags are shared by every command.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the keeperdata.yaml configuration file",
			Value:   "keeperdata.yaml",
			EnvVars: []string{"KEEPERDATA_CONFIG"},
		},
	}
}

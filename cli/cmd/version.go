package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// VersionCommand returns the version command. It never touches the
// stores.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(_ *cli.Context) error {
			return printJSON(VersionResponse{Version: types.Version, Commit: commit})
		},
	}
}

// Command mediaplayer drives the frameloop scheduler with simulated player
// subsystems: a media library scanner, a news fetcher and window resizes.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mediaplayer",
		Usage: "run the render/update scheduler with simulated player subsystems",
		Commands: []*cli.Command{
			runCommand(),
			preferencesCommand(),
		},
		DefaultCommand: "run",
	}
}

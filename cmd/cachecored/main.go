// Command cachecored runs the cache daemon and provides an offline CLI for
// ban administration and debug knobs, grounded on cmd/maliciousvote-submit's
// urfave/cli/v2 shape (package-level app + flag vars, init()-time wiring).
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
)

var (
	app *cli.App

	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "path to the TOML configuration file",
		Value: "cachecored.toml",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "render output as JSON instead of a table",
	}
)

func init() {
	app = cli.NewApp()
	app.Name = "cachecored"
	app.Usage = "HTTP reverse-proxy cache daemon and administration CLI"
	app.Flags = []cli.Flag{configFlag}
	app.Commands = []*cli.Command{
		startCommand,
		statusCommand,
		stopCommand,
		pidCommand,
		banCommand,
		banListCommand,
		banCancelCommand,
		debugListenAddressCommand,
		debugReqPoolFailCommand,
	}
}

func main() {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "cachecored: maxprocs: %v\n", err)
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "cachecored: %v\n", err)
		os.Exit(1)
	}
}

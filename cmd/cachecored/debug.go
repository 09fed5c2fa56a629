package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var debugListenAddressCommand = &cli.Command{
	Name:  "debug.listen.address",
	Usage: "print every listener address configured in --config",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		for _, l := range cfg.Listeners {
			fmt.Printf("%s\t%s\t%s\n", l.Name, l.Network, l.Address)
		}
		return nil
	},
}

var debugReqPoolFailCommand = &cli.Command{
	Name:      "debug.reqpoolfail",
	Usage:     "write a '0'/'1' fault pattern to --config's reqpoolfail_file for the running daemon to pick up",
	ArgsUsage: "<pattern>",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if cfg.ReqPoolFailFile == "" {
			return fmt.Errorf("cachecored: no reqpoolfail_file configured")
		}
		if c.Args().Len() != 1 {
			return fmt.Errorf("cachecored: debug.reqpoolfail requires exactly 1 argument, a string of 0s and 1s")
		}
		return os.WriteFile(cfg.ReqPoolFailFile, []byte(c.Args().Get(0)), 0o644)
	},
}

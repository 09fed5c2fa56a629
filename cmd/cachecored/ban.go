package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/reveno/cachecore/ban"
	"github.com/reveno/cachecore/persistence"
)

func nowUnix() int64 { return time.Now().Unix() }

// The ban/ban.list/ban.cancel commands operate directly on the persisted
// ban-export file rather than over a live connection to a running daemon:
// spec.md's "CLI parsing" and wire-protocol semantics are both named as
// external-collaborator Non-goals, so administration here is file-based,
// round-tripping through persistence.Export/Import the same way a stevedore
// backend's restart-reload path does.

var banFieldFlag = &cli.StringFlag{Name: "field", Usage: "header field name, for req.http/obj.http tests"}
var banDurationFlag = &cli.Float64Flag{Name: "duration", Usage: "numeric literal, for obj.ttl/obj.age/obj.grace/obj.keep/obj.status tests"}

var banCommand = &cli.Command{
	Name:      "ban",
	Usage:     "append a ban to the export file named by --file",
	ArgsUsage: "<arg> <op> <literal>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "file", Usage: "ban export file", Required: true},
		banFieldFlag,
		banDurationFlag,
	},
	Action: runBan,
}

var banListCommand = &cli.Command{
	Name:  "ban.list",
	Usage: "list the bans recorded in the export file named by --file",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "file", Usage: "ban export file", Required: true},
		jsonFlag,
	},
	Action: runBanList,
}

var banCancelCommand = &cli.Command{
	Name:      "ban.cancel",
	Usage:     "remove a ban from the export file named by --file, by index or timestamp",
	ArgsUsage: "<index|timestamp>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "file", Usage: "ban export file", Required: true},
		&cli.BoolFlag{Name: "by-timestamp", Usage: "interpret the argument as a ban timestamp instead of a list index"},
	},
	Action: runBanCancel,
}

func loadBanList(path string) (*ban.List, []byte, error) {
	list := ban.NewList()
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return list, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if _, err := persistence.Import(list, blob, 0); err != nil {
		return nil, nil, err
	}
	return list, blob, nil
}

func saveBanList(path string, list *ban.List) error {
	return os.WriteFile(path, persistence.Export(list), 0o644)
}

func parseArg(s string) (ban.Arg, error) {
	switch strings.ToLower(s) {
	case "req.url":
		return ban.ArgURL, nil
	case "req.http":
		return ban.ArgReqHeader, nil
	case "obj.http":
		return ban.ArgObjHeader, nil
	case "obj.status":
		return ban.ArgObjStatus, nil
	case "obj.ttl":
		return ban.ArgTTL, nil
	case "obj.age":
		return ban.ArgAge, nil
	case "obj.grace":
		return ban.ArgGrace, nil
	case "obj.keep":
		return ban.ArgKeep, nil
	default:
		return 0, fmt.Errorf("cachecored: unknown ban argument %q", s)
	}
}

func parseOp(s string) (ban.Op, error) {
	switch s {
	case "==":
		return ban.OpEq, nil
	case "!=":
		return ban.OpNe, nil
	case "~":
		return ban.OpMatch, nil
	case "!~":
		return ban.OpNotMatch, nil
	case "<":
		return ban.OpLt, nil
	case "<=":
		return ban.OpLe, nil
	case ">":
		return ban.OpGt, nil
	case ">=":
		return ban.OpGe, nil
	default:
		return 0, fmt.Errorf("cachecored: unknown ban operator %q", s)
	}
}

func runBan(c *cli.Context) error {
	if c.Args().Len() != 3 {
		return fmt.Errorf("cachecored: ban requires exactly 3 arguments: <arg> <op> <literal>")
	}
	argName, opName, literal := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)

	arg, err := parseArg(argName)
	if err != nil {
		return err
	}
	op, err := parseOp(opName)
	if err != nil {
		return err
	}

	list, _, err := loadBanList(c.String("file"))
	if err != nil {
		return err
	}

	bld := ban.NewBuilder()
	if err := bld.AddTest(arg, c.String(banFieldFlag.Name), op, literal, c.Float64(banDurationFlag.Name)); err != nil {
		return err
	}
	if _, err := list.Commit(bld, float64(nowUnix())); err != nil {
		return err
	}
	return saveBanList(c.String("file"), list)
}

func runBanList(c *cli.Context) error {
	list, _, err := loadBanList(c.String("file"))
	if err != nil {
		return err
	}
	snap := list.Snapshot()
	if c.Bool(jsonFlag.Name) {
		return ban.RenderJSON(os.Stdout, snap)
	}
	ban.RenderTable(os.Stdout, snap)
	return nil
}

func runBanCancel(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("cachecored: ban.cancel requires exactly 1 argument")
	}
	list, _, err := loadBanList(c.String("file"))
	if err != nil {
		return err
	}

	var target *ban.Ban
	if c.Bool("by-timestamp") {
		ts, err := strconv.ParseFloat(c.Args().Get(0), 64)
		if err != nil {
			return err
		}
		target, _ = list.FindByTimestamp(ts)
	} else {
		idx, err := strconv.Atoi(c.Args().Get(0))
		if err != nil {
			return err
		}
		target, err = list.AtIndex(idx)
		if err != nil {
			return err
		}
	}
	if target == nil {
		return fmt.Errorf("cachecored: no matching ban")
	}
	list.Cancel(target)
	return saveBanList(c.String("file"), list)
}

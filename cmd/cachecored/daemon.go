package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/urfave/cli/v2"

	"github.com/reveno/cachecore/cachecore"
	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/config"
	"github.com/reveno/cachecore/internal/corelog"
	"github.com/reveno/cachecore/persistence"
	"github.com/reveno/cachecore/policy"
	"github.com/reveno/cachecore/stevedore"
)

var startCommand = &cli.Command{
	Name:   "start",
	Usage:  "load the configuration and run the cache in the foreground",
	Action: runStart,
}

var statusCommand = &cli.Command{
	Name:   "status",
	Usage:  "report whether the daemon named by --config's pid_file is running",
	Action: runStatus,
}

var stopCommand = &cli.Command{
	Name:   "stop",
	Usage:  "send SIGTERM to the daemon named by --config's pid_file",
	Action: runStop,
}

var pidCommand = &cli.Command{
	Name:   "pid",
	Usage:  "print the pid recorded in --config's pid_file",
	Action: runPid,
}

func loadConfig(c *cli.Context) (config.Config, error) {
	return config.Load(c.String(configFlag.Name))
}

// openStore builds the Store named by cfg.PersistenceBackend (spec.md §6
// "Consumed from stevedore").
func openStore(cfg config.Config) (stevedore.Store, error) {
	switch cfg.PersistenceBackend {
	case "", "memory":
		return stevedore.NewMemStore(256 << 20), nil
	case "pebble":
		return stevedore.OpenPebbleStore(cfg.PersistenceDir)
	case "leveldb":
		return stevedore.OpenLevelStore(cfg.PersistenceDir)
	default:
		return nil, fmt.Errorf("cachecored: unknown persistence_backend %q", cfg.PersistenceBackend)
	}
}

func runStart(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := corelog.New(cfg.LogLevel, nil)

	var fl *flock.Flock
	if cfg.PIDFile != "" {
		fl = flock.New(cfg.PIDFile)
		locked, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("cachecored: lock pid file: %w", err)
		}
		if !locked {
			return fmt.Errorf("cachecored: daemon already running (pid file %s held)", cfg.PIDFile)
		}
		defer fl.Unlock()
		if err := os.WriteFile(cfg.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			return fmt.Errorf("cachecored: write pid file: %w", err)
		}
		defer os.Remove(cfg.PIDFile)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var persist persistence.Store
	if cfg.PersistenceBackend != "" && cfg.PersistenceBackend != "memory" {
		persist = nopPersistenceStore{}
	}

	cache, err := cachecore.New(cfg, log, clock.System{}, store, policy.DefaultHooks(), persist)
	if err != nil {
		return fmt.Errorf("cachecored: assemble cache: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cache.Start(ctx)
	log.Info("cachecored started", "config", c.String(configFlag.Name))
	<-ctx.Done()
	log.Info("cachecored shutting down")
	cache.Stop()
	return nil
}

// nopPersistenceStore is a placeholder persistence.Store for backends that
// don't yet implement ban-blob persistence hooks of their own; it accepts
// every notification without ever requesting a full export. A real
// deployment wires persistence.Store to the chosen stevedore backend's own
// ban-export file handling.
type nopPersistenceStore struct{}

func (nopPersistenceStore) BanInfoNew(_ []byte) bool  { return false }
func (nopPersistenceStore) BanInfoDrop(_ []byte) bool { return false }
func (nopPersistenceStore) BanExport(_ []byte)        {}

func readPID(cfg config.Config) (int, error) {
	if cfg.PIDFile == "" {
		return 0, fmt.Errorf("cachecored: no pid_file configured")
	}
	raw, err := os.ReadFile(cfg.PIDFile)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(raw))
}

func runStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	pid, err := readPID(cfg)
	if err != nil {
		fmt.Println(color.YellowString("stopped"))
		return nil
	}
	if err := syscall.Kill(pid, 0); err != nil {
		fmt.Println(color.YellowString("stopped (stale pid file)"))
		return nil
	}
	fmt.Println(color.GreenString("running"), "pid", pid)
	return nil
}

func runStop(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	pid, err := readPID(cfg)
	if err != nil {
		return err
	}
	return syscall.Kill(pid, syscall.SIGTERM)
}

func runPid(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	pid, err := readPID(cfg)
	if err != nil {
		return err
	}
	fmt.Println(pid)
	return nil
}

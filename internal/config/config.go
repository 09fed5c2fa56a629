// Package config loads and live-reloads the cachecore daemon configuration.
//
// Adapted from p2p/discover/common.go's Config/withDefaults pattern: a flat
// struct of optional fields, defaulted in one place, with an injectable
// clock and logger for testability. The teacher parses discovery config
// only once at startup; this package additionally watches the file with
// fsnotify and re-applies withDefaults on every change, since the acceptor
// (spec.md §4.5) must react to "periodic config poll" events.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/naoina/toml"

	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/corelog"
)

// ListenerSpec describes one listening endpoint (spec.md §3 "Listening
// endpoint", §4.5 socket option inheritance). Backlog and FastOpen are
// SPEC_FULL additions grounded on original_source's cache_acceptor_tcp.c.
type ListenerSpec struct {
	Name     string `toml:"name"`
	Network  string `toml:"network"` // "tcp", "tcp4", "tcp6", "unix"
	Address  string `toml:"address"`
	Backlog  int    `toml:"backlog"`
	FastOpen bool   `toml:"fast_open"`

	Linger       int           `toml:"linger_seconds"`
	KeepAlive    bool          `toml:"keepalive"`
	KeepAliveIdle time.Duration `toml:"keepalive_idle"`
	NoDelay      bool          `toml:"nodelay"`
	SendTimeout  time.Duration `toml:"send_timeout"`
	RecvTimeout  time.Duration `toml:"recv_timeout"`
}

// PoolSpec configures one worker pool (spec.md §4.4).
type PoolSpec struct {
	Name         string        `toml:"name"`
	Min          int           `toml:"min_threads"`
	Max          int           `toml:"max_threads"`
	QueueLimit   int           `toml:"queue_limit"`
	Reserve      int           `toml:"reserve"`
	IdleTimeout  time.Duration `toml:"idle_timeout"`
	WatchdogTime time.Duration `toml:"watchdog_timeout"`
}

// Config is the full daemon configuration.
type Config struct {
	PIDFile  string `toml:"pid_file"`
	LogLevel string `toml:"log_level"`

	Listeners []ListenerSpec `toml:"listener"`
	Pools     []PoolSpec     `toml:"pool"`

	// Ban & expiry tuning (spec.md §4.2, §4.3, §9).
	RushExponent        int           `toml:"rush_exponent"`
	BanLurkerBase       time.Duration `toml:"ban_lurker_base_interval"`
	BanLurkerAgeLimit   time.Duration `toml:"ban_lurker_age_limit"`
	BanLurkerCutoff     int           `toml:"ban_lurker_cutoff"`
	ExpiryBatchSize     int           `toml:"expiry_batch_size"`
	ExpiryOffloadAt     int           `toml:"expiry_offload_threshold"`

	// Acceptor pacer tuning (spec.md §4.5).
	PaceSleepIncr time.Duration `toml:"pace_sleep_incr"`
	PaceSleepMax  time.Duration `toml:"pace_sleep_max"`
	PaceDecay     float64       `toml:"pace_sleep_decay"`

	PersistenceBackend string `toml:"persistence_backend"` // "memory", "pebble", "leveldb"
	PersistenceDir     string `toml:"persistence_dir"`

	// DegradedHash enables the fixed collision-probing remap table
	// described in spec.md §4.1.
	DegradedHash bool `toml:"degraded_hash_debug"`

	// ReqPoolFailFile, if set, is fsnotify-watched for a '0'/'1' fault
	// pattern the CLI's debug.reqpoolfail command writes, applied to every
	// worker pool's FaultInjector (spec.md §6 debug surface, SPEC_FULL §5
	// "reqpoolfail bit semantics").
	ReqPoolFailFile string `toml:"reqpoolfail_file"`
}

// withDefaults fills in every optional field left at its zero value,
// mirroring p2p/discover/common.go's Config.withDefaults.
func (c Config) withDefaults() Config {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RushExponent <= 0 {
		c.RushExponent = 3
	}
	if c.BanLurkerBase <= 0 {
		c.BanLurkerBase = 1 * time.Second
	}
	if c.BanLurkerAgeLimit <= 0 {
		c.BanLurkerAgeLimit = 10 * time.Second
	}
	if c.BanLurkerCutoff <= 0 {
		c.BanLurkerCutoff = 1000
	}
	if c.ExpiryBatchSize <= 0 {
		c.ExpiryBatchSize = 1024
	}
	if c.ExpiryOffloadAt <= 0 {
		c.ExpiryOffloadAt = 128
	}
	if c.PaceSleepIncr <= 0 {
		c.PaceSleepIncr = 10 * time.Millisecond
	}
	if c.PaceSleepMax <= 0 {
		c.PaceSleepMax = 5 * time.Second
	}
	if c.PaceDecay <= 0 {
		c.PaceDecay = 0.9
	}
	if c.PersistenceBackend == "" {
		c.PersistenceBackend = "memory"
	}
	for i := range c.Pools {
		p := &c.Pools[i]
		if p.Min <= 0 {
			p.Min = 4
		}
		if p.Max <= 0 {
			p.Max = 64
		}
		if p.QueueLimit <= 0 {
			p.QueueLimit = 4096
		}
		if p.IdleTimeout <= 0 {
			p.IdleTimeout = 60 * time.Second
		}
		if p.WatchdogTime <= 0 {
			p.WatchdogTime = 60 * time.Second
		}
	}
	return c
}

// Load reads and defaults a TOML config file.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var c Config
	if err := toml.NewDecoder(f).Decode(&c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c.withDefaults(), nil
}

// Watcher reloads Config from disk whenever the underlying file changes and
// publishes the new value to subscribers. This is the ambient mechanism
// behind spec.md §4.5's "periodic config poll" (the acceptor bumps
// listen_mod and flips test_heritage on each observed change, see
// accept/listener.go).
type Watcher struct {
	path string
	log  corelog.Logger
	clk  clock.Clock

	mu   sync.RWMutex
	cur  Config
	subs []chan<- Config

	fsw *fsnotify.Watcher
}

// NewWatcher loads the initial config and starts watching path for changes.
func NewWatcher(path string, log corelog.Logger, clk clock.Clock) (*Watcher, error) {
	cur, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: fsnotify: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w := &Watcher{path: path, log: log, clk: clk, cur: cur, fsw: fsw}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Subscribe registers ch to receive every successfully reloaded Config.
// The channel must not block the watcher; callers should use a buffered
// channel or drain promptly.
func (w *Watcher) Subscribe(ch chan<- Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, ch)
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			next, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload failed, keeping previous config", "path", w.path, "err", err)
				continue
			}
			w.mu.Lock()
			w.cur = next
			subs := append([]chan<- Config(nil), w.subs...)
			w.mu.Unlock()
			w.log.Info("config reloaded", "path", w.path)
			for _, ch := range subs {
				select {
				case ch <- next:
				default:
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "err", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

package cachecore

import (
	"context"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/reveno/cachecore/pool"
)

// watchFaultFile fsnotify-watches path for a '0'/'1' reqpoolfail pattern
// (SPEC_FULL §5) and applies it to every pool in the set whenever it
// changes, the same fsnotify-driven-reload shape internal/config.Watcher
// uses for the daemon's main TOML file.
func (c *Cache) watchFaultFile(ctx context.Context, path string) {
	apply := func() {
		raw, err := os.ReadFile(path)
		if err != nil {
			c.log.Warn("reqpoolfail: read failed", "path", path, "err", err)
			return
		}
		pattern := strings.TrimSpace(string(raw))
		inj := pool.NewFaultInjector()
		if pattern != "" {
			if err := inj.SetPattern(pattern); err != nil {
				c.log.Warn("reqpoolfail: invalid pattern", "path", path, "err", err)
				return
			}
		}
		for _, p := range c.Pools.All() {
			p.SetFaultInjector(inj)
		}
		c.log.Info("reqpoolfail pattern applied", "pattern", pattern)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.log.Warn("reqpoolfail: watcher setup failed", "err", err)
		return
	}
	if err := watcher.Add(path); err != nil {
		c.log.Warn("reqpoolfail: cannot watch file", "path", path, "err", err)
		watcher.Close()
		return
	}

	apply()
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					apply()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.log.Warn("reqpoolfail: watcher error", "err", err)
			}
		}
	}()
}

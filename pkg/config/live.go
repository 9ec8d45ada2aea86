package config

import "sync/atomic"

// Live holds a hot-reloadable Config. Readers call Get(); Reload atomically
// swaps in a newly loaded document. No in-flight maintenance cycle observes
// a torn read: a cycle snapshots the pointer once at cycle start and runs
// against that snapshot to completion.
type Live struct {
	path string
	ptr  atomic.Pointer[Config]
}

// NewLive loads path once and returns a Live wrapper around the result.
func NewLive(path string) *Live {
	l := &Live{path: path}
	cfg, _ := Load(path)
	l.ptr.Store(cfg)
	return l
}

// Get returns the currently live Config snapshot.
func (l *Live) Get() *Config {
	if cfg := l.ptr.Load(); cfg != nil {
		return cfg
	}
	return Defaults()
}

// Reload re-reads the backing file and atomically swaps it in. On any
// Load-level failure the previous live config is left untouched (Load
// already degrades to defaults internally, so this only returns an error
// for programmer-facing diagnostics).
func (l *Live) Reload() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return l.Get(), err
	}
	l.ptr.Store(cfg)
	return cfg, nil
}

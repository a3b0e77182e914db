// Package file implements the kv.Backend contract on top of a single
// TOML or YAML document written atomically to disk. Unlike the
// Redis/etcd/Consul backends it keeps the whole document in memory and
// rewrites it wholesale on every mutation; flatten/unflatten still apply so
// the surface it exposes to upper layers is identical to the other
// backends.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jupyterhub/traefik-proxy/traefikconfig"
)

// Format selects the on-disk encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFromPath chooses YAML for a ".yaml"/".yml" extension and TOML
// otherwise.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Backend is a kv.Backend and kv.Watcher backed by a single file.
type Backend struct {
	path   string
	format Format
	log    *zap.Logger

	mu   sync.Mutex
	data map[string]string

	watchMu  sync.Mutex
	watchers []chan<- struct{}
	watcher  *fsnotify.Watcher
	stopPoll chan struct{}
}

// New loads path if it exists (an absent file starts out empty) and
// returns a ready Backend.
func New(path string, log *zap.Logger) (*Backend, error) {
	b := &Backend{
		path:   path,
		format: FormatFromPath(path),
		log:    log,
		data:   map[string]string{},
	}
	if err := b.load(); err != nil {
		return nil, fmt.Errorf("file backend: initial load of %s: %w", path, err)
	}
	return b, nil
}

func (b *Backend) load() error {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}

	var generic map[string]any
	switch b.format {
	case FormatYAML:
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("decode yaml: %w", err)
		}
	default:
		if err := toml.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("decode toml: %w", err)
		}
	}

	entries, err := traefikconfig.Flatten(generic)
	if err != nil {
		return err
	}
	flat := make(map[string]string, len(entries))
	for _, e := range entries {
		flat[e.KeyPath("/")] = e.Value
	}
	b.data = flat
	return nil
}

// persist writes the full document atomically: a temp file in the same
// directory, then a rename over the target, so Traefik never observes a
// partial file.
func (b *Backend) persist() error {
	tree := traefikconfig.Unflatten(b.data, "/")

	var raw []byte
	var err error
	switch b.format {
	case FormatYAML:
		raw, err = yaml.Marshal(tree)
	default:
		var buf strings.Builder
		err = toml.NewEncoder(&buf).Encode(tree)
		raw = []byte(buf.String())
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", b.format, err)
	}

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (b *Backend) AtomicSet(ctx context.Context, toSet map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Stage into a copy so a marshal failure never leaves the in-memory
	// map ahead of what's on disk (all-or-nothing, per kv.Backend).
	staged := make(map[string]string, len(b.data)+len(toSet))
	for k, v := range b.data {
		staged[k] = v
	}
	for k, v := range toSet {
		staged[k] = v
	}

	prev := b.data
	b.data = staged
	if err := b.persist(); err != nil {
		b.data = prev
		return err
	}
	b.notify()
	return nil
}

func (b *Backend) AtomicDelete(ctx context.Context, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	staged := make(map[string]string, len(b.data))
	for k, v := range b.data {
		staged[k] = v
	}
	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			for k := range staged {
				if strings.HasPrefix(k, key) {
					delete(staged, k)
				}
			}
		} else {
			delete(staged, key)
		}
	}

	prev := b.data
	b.data = staged
	if err := b.persist(); err != nil {
		b.data = prev
		return err
	}
	b.notify()
	return nil
}

func (b *Backend) GetTree(ctx context.Context, prefix string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := map[string]string{}
	for k, v := range b.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (b *Backend) Close() error {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	if b.watcher != nil {
		b.watcher.Close()
	}
	if b.stopPoll != nil {
		close(b.stopPoll)
	}
	return nil
}

func (b *Backend) notify() {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	for _, ch := range b.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch satisfies kv.Watcher. It prefers a native filesystem notification
// (fsnotify) and falls back to modification-time polling when a watcher
// can't be established.
func (b *Backend) Watch(ctx context.Context, prefix string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.watchMu.Lock()
	b.watchers = append(b.watchers, ch)
	b.watchMu.Unlock()

	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(filepath.Dir(b.path)); err == nil {
			b.watchMu.Lock()
			if b.watcher == nil {
				b.watcher = w
				go b.runFsnotify()
			} else {
				w.Close()
			}
			b.watchMu.Unlock()
		} else {
			w.Close()
		}
	}

	if b.watcher == nil {
		b.watchMu.Lock()
		if b.stopPoll == nil {
			b.stopPoll = make(chan struct{})
			go b.pollMtime()
		}
		b.watchMu.Unlock()
	}

	go func() {
		<-ctx.Done()
		b.watchMu.Lock()
		defer b.watchMu.Unlock()
		for i, c := range b.watchers {
			if c == ch {
				b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (b *Backend) runFsnotify() {
	for event := range b.watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 &&
			filepath.Clean(event.Name) == filepath.Clean(b.path) {
			b.notify()
		}
	}
}

func (b *Backend) pollMtime() {
	var lastMod time.Time
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopPoll:
			return
		case <-ticker.C:
			info, err := os.Stat(b.path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				b.notify()
			}
		}
	}
}

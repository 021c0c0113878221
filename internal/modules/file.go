package modules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"pkt.systems/crmdesk/schema"
	"pkt.systems/pslog"
)

const watchDebounce = 200 * time.Millisecond

// FileSource reads the module list from a YAML or JSON file.
type FileSource struct {
	path string
}

// NewFileSource returns a source reading path on every fetch.
func NewFileSource(path string) (*FileSource, error) {
	if path == "" {
		return nil, errors.New("module file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{path: abs}, nil
}

// Path returns the absolute file path.
func (s *FileSource) Path() string {
	return s.path
}

// Modules implements nav.ModuleSource.
func (s *FileSource) Modules(ctx context.Context) ([]schema.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	// JSON is a subset of YAML, so one decoder serves both.
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if len(doc.Content) == 0 {
		return []schema.Module{}, nil
	}
	root := doc.Content[0]
	var modules []schema.Module
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&modules); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.path, err)
		}
	case yaml.MappingNode:
		var wrapped struct {
			Modules []schema.Module `yaml:"modules"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.path, err)
		}
		modules = wrapped.Modules
	default:
		return nil, fmt.Errorf("decode %s: expected a list of modules", s.path)
	}
	return cleanModules(modules), nil
}

// Watch calls onChange after the file is written, replaced or removed,
// until ctx is done. Bursts of events within a short window collapse into
// one call. The parent directory is watched so editors that rename over
// the file are seen.
func (s *FileSource) Watch(ctx context.Context, onChange func()) error {
	if onChange == nil {
		return errors.New("watch callback is required")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log := pslog.Ctx(ctx).With("module_file", s.path)
	log.Info("modules watch started")
	go s.watchLoop(ctx, watcher, onChange, log)
	return nil
}

func (s *FileSource) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func(), log pslog.Logger) {
	defer func() { _ = watcher.Close() }()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			log.Info("modules watch stopped")
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			log.Debug("modules file event", "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn("modules watch error", "err", err)
		case <-fire:
			fire = nil
			log.Info("modules file changed")
			onChange()
		}
	}
}

// DefaultModules returns one module per built-in route, numbered in
// priority order. It seeds a fresh module file.
func DefaultModules() []schema.Module {
	routes := schema.DefaultModuleRoutes()
	out := make([]schema.Module, 0, len(routes))
	for i, route := range routes {
		out = append(out, schema.Module{ID: schema.ModuleID(i + 1), Name: route.Name})
	}
	return out
}

// WriteFile writes list to path as YAML. An existing file is kept unless
// overwrite is set.
func WriteFile(path string, list []schema.Module, overwrite bool) error {
	if path == "" {
		return errors.New("module file path is required")
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("module file already exists at %s", path)
		}
	}
	if list == nil {
		list = []schema.Module{}
	}
	data, err := yaml.Marshal(list)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

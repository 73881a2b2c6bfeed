package assembly

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/appslot/config"
	"github.com/projecteru2/appslot/types"
)

// compile-time interface check.
var _ types.UpdateState = (*State)(nil)

// State watches an app working directory and records whether any deployed
// file changed since it was created. Writes under the slot runtime directory
// and editor temp files are ignored.
type State struct {
	dir     string
	watcher *fsnotify.Watcher

	mu         sync.Mutex
	changed    bool
	lastChange time.Time
	lastPath   string

	done      chan struct{}
	closeOnce sync.Once
}

// New starts watching dir and its first-level subdirectories.
func New(ctx context.Context, dir string) (*State, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	s := &State{dir: dir, watcher: w, done: make(chan struct{})}
	if err := s.addTree(); err != nil {
		_ = w.Close()
		return nil, err
	}
	go s.loop(context.WithoutCancel(ctx))
	return s, nil
}

// Factory adapts New to the supervisor's UpdateState factory signature.
func Factory(ctx context.Context, dir string) (types.UpdateState, error) {
	return New(ctx, dir)
}

func (s *State) addTree() error {
	if err := s.watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() || ignored(e.Name()) {
			continue
		}
		if err := s.watcher.Add(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("watch %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *State) loop(ctx context.Context) {
	logger := log.WithFunc("assembly.loop")
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ctx, ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf(ctx, "watch %s: %v", s.dir, err)
		}
	}
}

func (s *State) handle(ctx context.Context, ev fsnotify.Event) {
	rel, err := filepath.Rel(s.dir, ev.Name)
	if err != nil {
		return
	}
	first, _, _ := strings.Cut(rel, string(filepath.Separator))
	if ignored(first) || ignored(filepath.Base(ev.Name)) {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	// New top-level directories are watched too, so a deploy that unpacks into one is seen.
	if ev.Has(fsnotify.Create) && !strings.Contains(rel, string(filepath.Separator)) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = s.watcher.Add(ev.Name)
		}
	}

	s.mu.Lock()
	firstChange := !s.changed
	s.changed = true
	s.lastChange = time.Now()
	s.lastPath = rel
	s.mu.Unlock()
	if firstChange {
		log.WithFunc("assembly.handle").Infof(ctx, "update detected in %s: %s", s.dir, rel)
	}
}

// Changed reports whether any file changed since the state was created.
func (s *State) Changed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// LastChange returns the time of the most recent change, zero if none.
func (s *State) LastChange() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChange
}

// LastPath returns the working-dir relative path of the most recent change.
func (s *State) LastPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPath
}

// Close stops watching. Safe to call more than once.
func (s *State) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	if errors.Is(err, fsnotify.ErrClosed) {
		return nil
	}
	return err
}

func ignored(name string) bool {
	return config.IsSlotRunPath(name) ||
		strings.HasPrefix(name, ".tmp-") ||
		strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp")
}

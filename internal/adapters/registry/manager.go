package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
)

// Manager owns the three registry snapshots and swaps them atomically on
// reload. Readers never block: they grab the current snapshot pointer and
// keep it for the lifetime of their request. A failed reload keeps the
// previous snapshots untouched.
type Manager struct {
	intentsPath string
	toolsPath   string
	juryPath    string

	intents atomic.Pointer[IntentSnapshot]
	tools   atomic.Pointer[ToolSnapshot]
	jury    atomic.Pointer[JurySnapshot]

	reloadMu sync.Mutex
	watcher  *fsnotify.Watcher
}

// NewManager loads all three registries; any failure aborts start-up
func NewManager(intentsPath, toolsPath, juryPath string) (*Manager, error) {
	m := &Manager{
		intentsPath: intentsPath,
		toolsPath:   toolsPath,
		juryPath:    juryPath,
	}
	if err := m.Reload(context.Background()); err != nil {
		return nil, err
	}
	return m, nil
}

// Intents returns the current intent snapshot
func (m *Manager) Intents() *IntentSnapshot {
	return m.intents.Load()
}

// Tools returns the current tool snapshot
func (m *Manager) Tools() *ToolSnapshot {
	return m.tools.Load()
}

// Jury returns the current jury snapshot
func (m *Manager) Jury() *JurySnapshot {
	return m.jury.Load()
}

// Reload re-reads every registry file, cross-validates, and swaps all three
// snapshots. The swap is all-or-nothing: one bad file keeps everything.
func (m *Manager) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	tools, err := LoadTools(m.toolsPath)
	if err != nil {
		return err
	}
	intents, err := LoadIntents(m.intentsPath)
	if err != nil {
		return err
	}
	jury, err := LoadJury(m.juryPath)
	if err != nil {
		return err
	}

	if err := crossValidate(intents, tools); err != nil {
		return err
	}

	m.tools.Store(tools)
	m.intents.Store(intents)
	m.jury.Store(jury)
	return nil
}

// crossValidate checks that every intent tool_action resolves in the tool
// registry. An empty tool_action marks an informational intent.
func crossValidate(intents *IntentSnapshot, tools *ToolSnapshot) error {
	for _, def := range intents.All() {
		if def.ToolAction == "" {
			continue
		}
		if _, ok := tools.Action(def.ToolAction); !ok {
			return domain.NewConfigurationError("", def.ID,
				fmt.Errorf("tool_action %q does not resolve: %w", def.ToolAction, domain.ErrToolNotFound))
		}
	}
	return nil
}

// Watch starts an fsnotify watcher over the registry files and reloads on
// change, debounced so editors that write in several syscalls trigger one
// reload. Returns a stop function.
func (m *Manager) Watch(ctx context.Context, logger *slog.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	m.watcher = watcher

	// Watch directories, not files: editors replace files on save and the
	// inode-level watch would go stale.
	dirs := make(map[string]bool)
	watched := map[string]bool{
		filepath.Clean(m.intentsPath): true,
		filepath.Clean(m.toolsPath):   true,
		filepath.Clean(m.juryPath):    true,
	}
	for path := range watched {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		const settle = 500 * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !watched[filepath.Clean(event.Name)] {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(settle, func() {
					if err := m.Reload(ctx); err != nil {
						logger.Warn("registry reload failed, keeping previous snapshots",
							"file", event.Name, "error", err)
						return
					}
					logger.Info("registries reloaded",
						"intents", m.Intents().Version(),
						"tools", m.Tools().Version(),
						"jury", m.Jury().Version())
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("registry watcher error", "error", err)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// ActiveRoster filters the jury snapshot down to the jurors that can
// actually be called: enabled, and with their credential present when one
// is declared. The skipped list carries the reason per juror.
func (m *Manager) ActiveRoster(lookupEnv func(string) (string, bool)) (active []*models.JurorSpec, skipped map[string]string) {
	skipped = make(map[string]string)
	for _, spec := range m.Jury().Roster() {
		if !spec.Enabled {
			skipped[spec.ID] = "disabled"
			continue
		}
		if spec.CredentialEnv != "" {
			if v, ok := lookupEnv(spec.CredentialEnv); !ok || v == "" {
				skipped[spec.ID] = "missing credential " + spec.CredentialEnv
				continue
			}
		}
		active = append(active, spec)
	}
	return active, skipped
}

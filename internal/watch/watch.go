// Package watch implements the debounced file-change rerun loop:
// owner-policy checked, lock-scoped, and iteration-bounded. Each
// debounced trigger re-resolves the watched selector and re-runs it
// through the DAG scheduler.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"effigy/internal/applog"
	"effigy/internal/effigyerr"
	"effigy/internal/lockmgr"
)

var log = applog.For("watch")

// Owner is the mandatory policy tag asserting who owns file-watching
// semantics for the target.
type Owner string

const (
	OwnerEffigy   Owner = "effigy"
	OwnerExternal Owner = "external"
)

// defaultExcludes are always applied in addition to any caller-supplied
// exclude globs.
var defaultExcludes = []string{".git/**", "node_modules/**", "target/**"}

// Config configures one watch loop invocation.
type Config struct {
	Root       string
	Target     string // the selector being watched, used for the task:watch:<target> lock scope
	Owner      Owner
	Include    []string
	Exclude    []string
	DebounceMS int64
	Once       bool
	MaxRuns    int // 0 means unbounded unless Once is set
	// Iterate is invoked once per triggered (or initial) run; it
	// re-resolves and re-executes the target via the DAG scheduler and
	// returns the run's exit code.
	Iterate func(ctx context.Context) (exitCode int, err error)
}

// Run executes the watch loop: it acquires the task:watch:<target> lock
// for the entire loop's lifetime, runs Iterate once immediately, then
// watches Root for matching file changes, debouncing each burst into a
// single rerun, until ctx is cancelled or the bound (Once/MaxRuns) is
// reached.
func Run(ctx context.Context, cfg Config) (lastExitCode int, err error) {
	if cfg.Owner != OwnerEffigy {
		return 0, effigyerr.New(effigyerr.WatchExternalOwner,
			"watch loop owner must be \"effigy\"; refusing to nest an external watcher inside effigy's own loop")
	}

	guard, err := lockmgr.Acquire(cfg.Root, []string{"task:watch:" + cfg.Target})
	if err != nil {
		return 0, err
	}
	defer guard.Release()

	debounce := time.Duration(cfg.DebounceMS) * time.Millisecond
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return 0, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := addDirectories(fsw, cfg.Root, cfg.Exclude); err != nil {
		return 0, err
	}

	runs := 0
	doRun := func() error {
		runID := uuid.NewString()
		log.Debug("watch iteration starting", "run_id", runID, "target", cfg.Target)
		code, rerr := cfg.Iterate(ctx)
		lastExitCode = code
		runs++
		if rerr != nil {
			log.Warn("watch iteration error", "run_id", runID, "error", rerr)
		}
		return rerr
	}

	if err := doRun(); err != nil {
		return lastExitCode, err
	}
	if cfg.Once || (cfg.MaxRuns > 0 && runs >= cfg.MaxRuns) {
		return lastExitCode, nil
	}

	var (
		mu      sync.Mutex
		pending bool
		timer   *time.Timer
		fire    = make(chan struct{}, 1)
	)
	_ = pending

	scheduleFire := func() {
		mu.Lock()
		defer mu.Unlock()
		pending = true
		if timer == nil {
			timer = time.AfterFunc(debounce, func() {
				mu.Lock()
				pending = false
				mu.Unlock()
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return lastExitCode, nil

		case evt, ok := <-fsw.Events:
			if !ok {
				return lastExitCode, fmt.Errorf("watch: fsnotify event channel closed unexpectedly")
			}
			rel, rerr := filepath.Rel(cfg.Root, evt.Name)
			if rerr != nil {
				rel = evt.Name
			}
			if matchesExclude(rel, cfg.Exclude) || !matchesInclude(rel, cfg.Include) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				maybeAddDir(fsw, evt.Name, cfg.Root, cfg.Exclude)
			}
			scheduleFire()

		case werr, ok := <-fsw.Errors:
			if !ok {
				return lastExitCode, fmt.Errorf("watch: fsnotify error channel closed unexpectedly")
			}
			log.Warn("fsnotify error", "error", werr)

		case <-fire:
			if err := doRun(); err != nil {
				return lastExitCode, err
			}
			if cfg.MaxRuns > 0 && runs >= cfg.MaxRuns {
				return lastExitCode, nil
			}
		}
	}
}

func matchesExclude(rel string, extra []string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pat := range defaultExcludes {
		if ok, _ := doublestar.Match(pat, normalized); ok {
			return true
		}
	}
	for _, pat := range extra {
		if ok, _ := doublestar.Match(pat, normalized); ok {
			return true
		}
	}
	return false
}

func matchesInclude(rel string, include []string) bool {
	if len(include) == 0 {
		return true
	}
	normalized := filepath.ToSlash(rel)
	for _, pat := range include {
		if ok, _ := doublestar.Match(pat, normalized); ok {
			return true
		}
	}
	return false
}

// addDirectories walks root and registers every non-excluded directory
// with fsw. Best-effort: inaccessible or excluded subtrees are skipped
// rather than aborting the watch.
func addDirectories(fsw *fsnotify.Watcher, root string, exclude []string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil //nolint:nilerr // best-effort: skip inaccessible paths
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if rel != "." && matchesExclude(rel+"/", exclude) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
}

// maybeAddDir registers a newly-created directory so recursive watches
// extend to directories created after the initial walk.
func maybeAddDir(fsw *fsnotify.Watcher, path, root string, exclude []string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || matchesExclude(rel+"/", exclude) {
		return
	}
	_ = fsw.Add(path)
}

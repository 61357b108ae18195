// Package lockmgr acquires and releases per-scope advisory locks under
// <root>/.effigy/locks: independent, deadlock-ordered PID files per
// workspace/task/profile/watch scope, with liveness-checked reclaim of
// locks left behind by dead holders.
package lockmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"effigy/internal/effigyerr"
)

// Guard represents scopes held by one acquire call. Release is idempotent:
// calling it twice, or on a zero Guard, is a no-op.
type Guard struct {
	root   string
	scopes []string
}

// locksDir returns <root>/.effigy/locks.
func locksDir(root string) string {
	return filepath.Join(root, ".effigy", "locks")
}

// scopeFileName maps a scope to its on-disk filename. Scopes embed "/"
// (profile:<task>/<profile>) and task names are free-form, so path
// separators are percent-encoded to keep every lock a direct child of
// the locks directory. The mapping is reversible for Unlock --all.
func scopeFileName(scope string) string {
	s := strings.ReplaceAll(scope, "%", "%25")
	return strings.ReplaceAll(s, "/", "%2F")
}

func scopeFromFileName(name string) string {
	s := strings.ReplaceAll(name, "%2F", "/")
	return strings.ReplaceAll(s, "%25", "%")
}

func lockPath(root, scope string) string {
	return filepath.Join(locksDir(root), scopeFileName(scope)+".lock")
}

type lockContents struct {
	pid       int
	startedMS int64
}

func (l lockContents) encode() string {
	return fmt.Sprintf("%d %d\n", l.pid, l.startedMS)
}

func parseLockContents(data []byte) (lockContents, bool) {
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return lockContents{}, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return lockContents{}, false
	}
	started, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return lockContents{}, false
	}
	return lockContents{pid: pid, startedMS: started}, true
}

// Acquire acquires every scope under root, in a stable lexicographic order
// so that concurrent invocations requesting overlapping scope sets cannot
// deadlock against each other. On any scope's failure, every scope already
// acquired in this call is released before returning the error.
func Acquire(root string, scopes []string) (*Guard, error) {
	ordered := append([]string{}, scopes...)
	sort.Strings(ordered)

	dir := locksDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, effigyerr.Wrap(effigyerr.LockConflict, "cannot create lock directory", err)
	}

	g := &Guard{root: root}
	for _, scope := range ordered {
		if err := acquireOne(root, scope); err != nil {
			releaseScopes(root, g.scopes)
			return nil, err
		}
		g.scopes = append(g.scopes, scope)
	}
	return g, nil
}

func acquireOne(root, scope string) error {
	path := lockPath(root, scope)
	mine := lockContents{pid: os.Getpid(), startedMS: time.Now().UnixMilli()}

	for attempt := 0; attempt < 2; attempt++ {
		if err := createExclusive(path, mine); err == nil {
			return nil
		} else if !os.IsExist(err) {
			return effigyerr.Wrap(effigyerr.LockConflict, fmt.Sprintf("cannot create lock file for scope %q", scope), err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // raced with a release; retry
			}
			return effigyerr.Wrap(effigyerr.LockConflict, fmt.Sprintf("cannot read lock file for scope %q", scope), err)
		}

		held, ok := parseLockContents(data)
		if !ok || !pidAlive(held.pid) {
			os.Remove(path)
			continue
		}

		return effigyerr.New(effigyerr.LockConflict,
			fmt.Sprintf("scope %q is held by another invocation", scope),
			scope, path, strconv.Itoa(held.pid), strconv.FormatInt(held.startedMS, 10))
	}

	return effigyerr.New(effigyerr.LockConflict, fmt.Sprintf("could not acquire scope %q after reclaiming stale lock", scope), scope)
}

// createExclusive atomically creates path with contents: the contents
// are written to a temp file in the same directory first, then linked
// into place. link(2) fails with EEXIST on collision, so a racing
// acquirer either sees no file or a fully-written one, never a partial
// write.
func createExclusive(path string, c lockContents) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(c.encode()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Link(tmpName, path)
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}

// Release removes every scope held by g whose file still names this
// process as the holder, guarding against ownership drift from a stale
// reclaim racing with this process's own release.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	releaseScopes(g.root, g.scopes)
	g.scopes = nil
}

func releaseScopes(root string, scopes []string) {
	mine := os.Getpid()
	for _, scope := range scopes {
		path := lockPath(root, scope)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		held, ok := parseLockContents(data)
		if ok && held.pid == mine {
			os.Remove(path)
		}
	}
}

// Unlock is the operator override: it deletes lock files without any
// liveness check, reporting which scopes were removed versus already
// missing. all selects every *.lock file under root's lock directory.
func Unlock(root string, scopes []string, all bool) (removed, missing []string, err error) {
	dir := locksDir(root)

	if all {
		entries, rerr := os.ReadDir(dir)
		if rerr != nil {
			if os.IsNotExist(rerr) {
				return nil, nil, nil
			}
			return nil, nil, effigyerr.Wrap(effigyerr.LockConflict, "cannot list lock directory", rerr)
		}
		scopes = scopes[:0]
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".lock") {
				scopes = append(scopes, scopeFromFileName(strings.TrimSuffix(e.Name(), ".lock")))
			}
		}
	}

	for _, scope := range scopes {
		path := lockPath(root, scope)
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				missing = append(missing, scope)
				continue
			}
			return removed, missing, effigyerr.Wrap(effigyerr.LockConflict, fmt.Sprintf("cannot remove lock for scope %q", scope), err)
		}
		removed = append(removed, scope)
	}
	return removed, missing, nil
}

// Package deferral implements the fallback path taken when selector
// resolution finds no task: either an explicit [defer].run template on the
// targeted catalog, or an implicit rule inferred from marker files at the
// root, substituting {request}/{args}/{repo} and spawning through the same
// shell-execution path as a compiled graph node.
package deferral

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"effigy/internal/applog"
	"effigy/internal/effigyerr"
	"effigy/internal/manifest"
	"effigy/internal/procexec"
)

var log = applog.For("deferral")

// DepthEnvVar is the loop-guard environment variable threaded into a
// deferral child's environment.
const DepthEnvVar = "EFFIGY_DEFER_DEPTH"

// implicitRuleMatches reports whether both files whose joint presence at
// root signals a legacy composer-based task runner the implicit rule defers
// to: composer.json plus effigy's own legacy manifest fallback name,
// which only coexists with composer.json in a workspace mid-migration,
// are present.
func implicitRuleMatches(root string) bool {
	_, composerErr := os.Stat(filepath.Join(root, "composer.json"))
	_, legacyErr := os.Stat(filepath.Join(root, manifest.FallbackName))
	return composerErr == nil && legacyErr == nil
}

// Resolve returns the defer command template to run, or ok=false if no
// explicit or implicit defer rule applies. target is the catalog whose
// [defer].run is consulted: the prefix-targeted catalog for a prefixed
// selector, the workspace-root catalog for a bare one. When target is nil
// (no such catalog exists) only the implicit rule is checked against root.
func Resolve(root string, target *manifest.Catalog) (command string, ok bool) {
	if target != nil && target.Defer != "" {
		return target.Defer, true
	}
	if implicitRuleMatches(root) {
		return "effigy {request}", true
	}
	return "", false
}

// Request describes the unresolved invocation being deferred.
type Request struct {
	Root        string
	RawSelector string
	Args        []string
}

// Spawn checks the loop guard, substitutes interpolation tokens into
// command, and runs it with EFFIGY_DEFER_DEPTH=1 in the child's
// environment. The child's exit code is propagated verbatim.
func Spawn(ctx context.Context, command string, req Request) (int, error) {
	if depth := os.Getenv(DepthEnvVar); depth != "" && depth != "0" {
		return 0, effigyerr.New(effigyerr.DeferralLoop,
			"deferral already in progress for this invocation chain", depth)
	}

	corrID := uuid.NewString()
	log.Debug("deferring unresolved selector", "correlation_id", corrID, "selector", req.RawSelector)

	interpolated := procexec.Interpolate(command, procexec.Tokens{
		Repo:    req.Root,
		Args:    req.Args,
		Request: strings.TrimSpace(req.RawSelector + " " + strings.Join(req.Args, " ")),
	})

	env := append(os.Environ(), DepthEnvVar+"=1")
	res := procexec.Run(ctx, procexec.Request{
		Command: interpolated,
		WorkDir: req.Root,
		Env:     env,
		Stdio:   procexec.StdioInherit,
	})
	return res.ExitCode, res.Err
}

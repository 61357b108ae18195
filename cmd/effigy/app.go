// Package cmd contains effigy's CLI commands, composed through App:
// handlers receive an App reference and delegate the actual
// workspace/selector/scheduler logic to it rather than embedding
// business logic in the Cobra layer itself.
package cmd

import (
	"fmt"
	"os"

	"effigy/internal/builtin"
	"effigy/internal/catalog"
	"effigy/internal/effigyerr"
	"effigy/internal/manifest"
	"effigy/internal/rootresolver"
	"effigy/internal/selector"
)

// App is the composition root for the CLI layer.
type App struct {
	Registry *builtin.Registry
}

// NewApp builds the production App, registering the core-implemented
// built-ins (tasks, unlock) against the shared Registry; the remaining
// entries (test, doctor, init, migrate, config, watch) are left
// unregistered for an external collaborator to fill in.
func NewApp() *App {
	reg := builtin.NewRegistry()
	registerCoreBuiltins(reg)
	return &App{Registry: reg}
}

// Workspace bundles the per-invocation root and discovered catalogs so
// every subcommand resolves them identically.
type Workspace struct {
	Root     *rootresolver.Result
	Catalogs []*manifest.Catalog
}

// LoadWorkspace resolves the Root for invocationCWD (honoring an
// explicit --repo override) and discovers every catalog beneath it.
func LoadWorkspace(invocationCWD, repoOverride string) (*Workspace, error) {
	root, err := rootresolver.Resolve(invocationCWD, repoOverride)
	if err != nil {
		return nil, err
	}
	cats, err := catalog.Discover(root.Root)
	if err != nil {
		return nil, err
	}
	return &Workspace{Root: root, Catalogs: cats}, nil
}

// rootCatalog returns the catalog rooted at the workspace root itself,
// or nil when no manifest lives directly at the root. The deferral
// engine consults its [defer].run for unresolved selectors.
func (ws *Workspace) rootCatalog() *manifest.Catalog {
	for _, c := range ws.Catalogs {
		if c.Root == ws.Root.Root {
			return c
		}
	}
	return nil
}

// ResolveSelector resolves raw against ws's catalogs, as observed from
// invocationCWD.
func (ws *Workspace) ResolveSelector(raw, invocationCWD string) (*selector.Resolution, error) {
	return selector.Resolve(raw, invocationCWD, ws.Catalogs)
}

// reportError renders an *effigyerr.Error (or any error) to stderr and
// returns the exit code the top level should use. Structural errors
// surface immediately with their evidence lines.
func reportError(err error) int {
	var eerr *effigyerr.Error
	if asEffigyError(err, &eerr) {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("%s: %s", eerr.Kind, eerr.Message)))
		for _, e := range eerr.Evidence {
			fmt.Fprintln(os.Stderr, subtitleStyle.Render("  - "+e))
		}
		if eerr.ExitCode != 0 {
			return eerr.ExitCode
		}
		return 1
	}
	fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
	return 1
}

func asEffigyError(err error, target **effigyerr.Error) bool {
	for err != nil {
		if e, ok := err.(*effigyerr.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

package cmd

import (
	"effigy/internal/builtin"
	"effigy/internal/catalog"
	"effigy/internal/lockmgr"
	"effigy/internal/tasks"
)

// registerCoreBuiltins wires the built-ins implemented entirely within
// the core (tasks listing, unlock) into reg, so a plain `effigy tasks`
// (resolved via selector.ModeBuiltin) dispatches the same way a
// dedicated Cobra subcommand would. The Cobra subcommands in
// cmd_tasks.go/cmd_unlock.go call the identical internal packages
// directly for the non-selector entry point (`effigy tasks` as a verb
// rather than a built-in selector).
func registerCoreBuiltins(reg *builtin.Registry) {
	reg.Register(builtin.Tasks, func(root string, args []string) (builtin.Envelope, error) {
		cats, err := catalog.Discover(root)
		if err != nil {
			return builtin.Envelope{}, err
		}
		return builtin.NewSuccess("tasks", tasks.List(cats)), nil
	})

	reg.Register(builtin.Unlock, func(root string, args []string) (builtin.Envelope, error) {
		all := false
		var scopes []string
		for _, a := range args {
			if a == "--all" {
				all = true
				continue
			}
			scopes = append(scopes, a)
		}
		removed, missing, err := lockmgr.Unlock(root, scopes, all)
		if err != nil {
			return builtin.Envelope{}, err
		}
		return builtin.NewSuccess("unlock", map[string]any{
			"removed": removed,
			"missing": missing,
		}), nil
	})
}

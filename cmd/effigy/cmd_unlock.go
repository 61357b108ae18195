package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"effigy/internal/builtin"
	"effigy/internal/lockmgr"
)

var unlockAll bool

var unlockCmd = &cobra.Command{
	Use:   "unlock [scope...]",
	Short: "Remove lock files without a liveness check (operator override)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		ws, err := LoadWorkspace(cwd, repoOverride)
		if err != nil {
			os.Exit(reportError(err))
			return nil
		}

		removed, missing, err := lockmgr.Unlock(ws.Root.Root, args, unlockAll)
		if err != nil {
			os.Exit(reportError(err))
			return nil
		}

		if jsonOutput {
			emit(builtin.NewSuccess("unlock", map[string]any{"removed": removed, "missing": missing}))
			return nil
		}
		for _, s := range removed {
			fmt.Printf("removed: %s\n", s)
		}
		for _, s := range missing {
			fmt.Printf("missing: %s\n", s)
		}
		return nil
	},
}

func init() {
	unlockCmd.Flags().BoolVar(&unlockAll, "all", false, "remove every lock file under the workspace")
}

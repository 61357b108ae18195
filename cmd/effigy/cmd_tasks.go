package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"effigy/internal/builtin"
	"effigy/internal/tasks"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List every task discovered under the workspace root",
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

		entries := tasks.List(ws.Catalogs)
		if jsonOutput {
			emit(builtin.NewSuccess("tasks", entries))
			return nil
		}
		for _, e := range entries {
			marker := ""
			if e.Ambiguous {
				marker = " (ambiguous)"
			}
			fmt.Printf("%-16s %-24s depth=%d%s\n", e.Alias+"/"+e.Task, e.CatalogRoot, e.Depth, marker)
		}
		return nil
	},
}

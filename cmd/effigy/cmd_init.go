package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"effigy/internal/config"
	"effigy/internal/manifest"
)

const defaultManifestTemplate = `[catalog]
alias = "%s"

[tasks]
build = "echo build"
test = "echo test"
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter effigy.toml in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.EnsureConfigDir(); err != nil {
			return err
		}
		if err := config.CreateDefaultConfig(); err != nil {
			return err
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		path := filepath.Join(cwd, manifest.CanonicalName)
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("%s already exists\n", path)
			return nil
		}

		alias := filepath.Base(cwd)
		content := fmt.Sprintf(defaultManifestTemplate, alias)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
		fmt.Printf("created %s\n", path)
		return nil
	},
}

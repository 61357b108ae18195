package cmd

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"effigy/internal/builtin"
	"effigy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect effigy's global configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective global configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if jsonOutput {
			emit(builtin.NewSuccess("config show", cfg))
			return nil
		}
		data, err := toml.Marshal(cfg)
		if err != nil {
			return err
		}
		if path := config.ConfigFilePath(); path != "" {
			fmt.Printf("# loaded from %s\n", path)
		} else {
			fmt.Println("# no config file found, showing built-in defaults")
		}
		fmt.Print(string(data))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the path to effigy's config directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := config.ConfigDir()
		if err != nil {
			return err
		}
		if jsonOutput {
			emit(builtin.NewSuccess("config path", map[string]string{"dir": dir}))
			return nil
		}
		fmt.Println(dir)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

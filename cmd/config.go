package cmd

import (
	"fmt"

	"github.com/FluidXR/droidtail/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective droidtail configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path := flagConfig
		if path == "" {
			path = config.ConfigPath()
		}
		fmt.Printf("Config file: %s\n\n", path)
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		path := flagConfig
		if path == "" {
			path = config.ConfigPath()
		}
		if err := config.SaveFile(cfg, path); err != nil {
			return err
		}
		fmt.Printf("Config created at %s\n", path)
		return nil
	},
}

var configSetHelperCmd = &cobra.Command{
	Use:   "set-helper <path.dex>",
	Short: "Set the compiled label helper used for display labels",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfig
		if path == "" {
			path = config.ConfigPath()
		}
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		cfg.Labels.HelperPath = args[0]
		if err := config.SaveFile(cfg, path); err != nil {
			return err
		}
		fmt.Printf("Label helper set to %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetHelperCmd)
	rootCmd.AddCommand(configCmd)
}

package cmd

import (
	"fmt"
	"os"

	"github.com/MeKo-Tech/idcap/internal/config"
	"github.com/spf13/cobra"
)

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write the default configuration",
	Long: `Write the default configuration as YAML, to idcap.yaml unless a file is
given. An existing file is only replaced with --force.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.GenerateDefaultConfigFile(path); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:          "show",
	Short:        "Print the resolved configuration",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		data, err := config.ToYAML(*cfg)
		if err != nil {
			return err
		}
		if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
		}
		_, _ = fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
}

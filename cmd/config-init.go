package cmd

import (
	"fmt"
	"os"

	"github.com/csweichel/chainfs/pkg/config"
	"github.com/spf13/cobra"
)

var configInitOpts struct {
	Force bool
}

// configInitCmd represents the configInit command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Writes a configuration file with default values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := rootOpts.Config
		if path == "" {
			path = config.DefaultPath()
		}
		if _, err := os.Stat(path); err == nil && !configInitOpts.Force {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}

		if err := config.Save(config.Default(), path); err != nil {
			return err
		}
		fmt.Printf("configuration written to %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().BoolVar(&configInitOpts.Force, "force", false, "overwrite an existing file")
}

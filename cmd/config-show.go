package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configShowCmd represents the configShow command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Prints the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := *cfg
		if c.Remote.Token != "" {
			c.Remote.Token = "<redacted>"
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(&c)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

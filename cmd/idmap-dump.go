package cmd

import (
	"encoding/json"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// idmapDumpCmd represents the idmapDump command
var idmapDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dumps the identity map as JSON",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ids, closeIDs, err := openIdentities(cfg.State.Dir, localCaller())
		if err != nil {
			log.WithError(err).Fatal("cannot open identity map")
		}
		defer closeIDs()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(ids.Mappings())
	},
}

func init() {
	idmapCmd.AddCommand(idmapDumpCmd)
}

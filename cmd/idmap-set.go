package cmd

import (
	"fmt"
	"strconv"

	"github.com/csweichel/chainfs/pkg/identity"
	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// idmapSetCmd represents the idmapSet command
var idmapSetCmd = &cobra.Command{
	Use:       "set <user|group> <id> <address>",
	Short:     "Maps a local user or group id to a remote identity",
	Args:      cobra.ExactArgs(3),
	ValidArgs: []string{string(identity.User), string(identity.Group)},
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[1], err)
		}
		if !common.IsHexAddress(args[2]) {
			return fmt.Errorf("invalid address %q", args[2])
		}
		m := identity.Mapping{
			Class:   identity.Class(args[0]),
			ID:      uint32(id),
			Address: common.HexToAddress(args[2]),
		}

		ids, closeIDs, err := openIdentities(cfg.State.Dir, localCaller())
		if err != nil {
			return err
		}
		defer closeIDs()

		if err := ids.Set(m); err != nil {
			return err
		}
		log.WithField("class", m.Class).WithField("id", m.ID).WithField("address", m.Address.Hex()).Info("mapping stored")
		return nil
	},
}

func init() {
	idmapCmd.AddCommand(idmapSetCmd)
}

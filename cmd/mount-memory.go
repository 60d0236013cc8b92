package cmd

import (
	"context"
	"fmt"

	"github.com/csweichel/chainfs/pkg/store/memstore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var mountMemoryOpts struct {
	Caller string
}

// mountMemoryCmd represents the mountMemory command
var mountMemoryCmd = &cobra.Command{
	Use:   "memory <mountpoint>",
	Short: "Mounts a volatile in-memory store, useful for trying things out",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyMountFlags(cmd)
		if !common.IsHexAddress(mountMemoryOpts.Caller) {
			logrus.WithField("caller", mountMemoryOpts.Caller).Fatal("caller is not an address")
		}
		caller := common.HexToAddress(mountMemoryOpts.Caller)

		parent, release, err := daemonize()
		if err != nil {
			logrus.WithError(err).Fatal("cannot mount memory store")
		}
		if parent {
			return
		}
		defer release()

		ids, closeIDs, err := openIdentities("", caller)
		if err != nil {
			logrus.WithError(err).Fatal("cannot open identity map")
		}
		defer closeIDs()

		s := memstore.New(memstore.Options{
			Caller:     caller,
			MaxPayload: cfg.Remote.MaxPayload,
		})
		err = serveMount(context.Background(), args[0], s, ids)
		if err != nil {
			logrus.WithError(err).Fatal("cannot mount")
		}
	},
}

func init() {
	mountCmd.AddCommand(mountMemoryCmd)
	mountMemoryCmd.Flags().StringVar(&mountMemoryOpts.Caller, "caller", fmt.Sprintf("0x%040x", 1), "remote identity owning new entries")
}

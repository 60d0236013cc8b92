/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"

	"github.com/csweichel/chainfs/pkg/store/ethstore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// mountRemoteCmd represents the mountRemote command
var mountRemoteCmd = &cobra.Command{
	Use:   "remote <mountpoint>",
	Short: "Mounts the kernel contract configured under remote",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyMountFlags(cmd)
		if err := cfg.Remote.RequireRemote(); err != nil {
			logrus.WithError(err).Fatal("cannot mount remote store")
		}

		parent, release, err := daemonize()
		if err != nil {
			logrus.WithError(err).Fatal("cannot mount remote store")
		}
		if parent {
			return
		}
		defer release()

		key, err := cfg.Remote.ReadCredential()
		if err != nil {
			logrus.WithError(err).Fatal("cannot mount remote store")
		}

		ctx := context.Background()
		s, err := ethstore.Dial(ctx, ethstore.Options{
			Endpoint:    cfg.Remote.Endpoint,
			Contract:    common.HexToAddress(cfg.Remote.Contract),
			Credential:  key,
			Token:       cfg.Remote.Token,
			ChainID:     cfg.Remote.ChainID,
			CallTimeout: cfg.Remote.CallTimeout,
		})
		if err != nil {
			logrus.WithError(err).Fatal("cannot connect to remote store")
		}
		defer s.Disconnect()

		ids, closeIDs, err := openIdentities(cfg.State.Dir, s.Caller())
		if err != nil {
			logrus.WithError(err).Fatal("cannot open identity map")
		}
		defer closeIDs()

		logrus.WithField("contract", cfg.Remote.Contract).WithField("caller", s.Caller().Hex()).Info("connected to remote store")
		err = serveMount(ctx, args[0], s, ids)
		if err != nil {
			logrus.WithError(err).Fatal("cannot mount")
		}
	},
}

func init() {
	mountCmd.AddCommand(mountRemoteCmd)
}

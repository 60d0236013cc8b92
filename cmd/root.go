/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/csweichel/chainfs/pkg/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootOpts struct {
	Verbose bool
	Config  string
}

// cfg is loaded before any command runs.
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chainfs",
	Short: "Mounts a ledger-backed hierarchical store as filesystem",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(rootOpts.Config)
		if err != nil {
			return err
		}
		cfg = c
		return setupLogging(cfg.Logging)
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(c config.LoggingConfig) error {
	lvl, err := log.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	if rootOpts.Verbose {
		lvl = log.DebugLevel
	}
	log.SetLevel(lvl)

	if c.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootOpts.Verbose, "verbose", "v", false, "enable debug logging and FUSE request tracing")
	rootCmd.PersistentFlags().StringVar(&rootOpts.Config, "config", "", "config file (default: $XDG_CONFIG_HOME/chainfs/config.yaml)")
}

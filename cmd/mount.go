/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/csweichel/chainfs/pkg/adapter"
	"github.com/csweichel/chainfs/pkg/chainfs"
	"github.com/csweichel/chainfs/pkg/metrics"
	"github.com/csweichel/chainfs/pkg/store"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	daemon "github.com/sevlyar/go-daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	unmountAttempts = 10
	unmountBackoff  = time.Second
)

var mountOpts struct {
	AllowOther bool
	Daemon     bool
}

// mountCmd represents the mount command
var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mounts a store as filesystem",
}

// applyMountFlags lets explicitly set flags override the configuration.
func applyMountFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("allow-other") {
		cfg.Mount.AllowOther = mountOpts.AllowOther
	}
	if cmd.Flags().Changed("daemon") {
		cfg.Mount.Daemon = mountOpts.Daemon
	}
}

// daemonize forks into the background when mount.daemon is set. parent is
// true in the invoking process, which has nothing left to do.
func daemonize() (parent bool, release func(), err error) {
	if !cfg.Mount.Daemon {
		return false, func() {}, nil
	}

	dctx := &daemon.Context{
		PidFileName: cfg.Mount.PidFile,
		PidFilePerm: 0644,
		LogFileName: cfg.Mount.LogFile,
		LogFilePerm: 0640,
		Umask:       027,
	}
	child, err := dctx.Reborn()
	if err != nil {
		return false, nil, fmt.Errorf("cannot daemonize: %w", err)
	}
	if child != nil {
		log.WithField("pid", child.Pid).Info("mounting in background")
		return true, nil, nil
	}
	return false, func() {
		if err := dctx.Release(); err != nil {
			log.WithError(err).Warn("cannot release pid file")
		}
	}, nil
}

// serveMount mounts s at mnt and blocks until the filesystem is unmounted.
func serveMount(ctx context.Context, mnt string, s store.Store, ids adapter.Identities) error {
	t0 := time.Now()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d := adapter.New(metrics.Wrap(s, reg), ids, adapter.Options{ChunkSize: cfg.IO.ChunkSize})

	attrTimeout, entryTimeout := cfg.Mount.AttrTimeout, cfg.Mount.EntryTimeout
	os.Mkdir(mnt, 0755)
	server, err := fs.Mount(mnt, chainfs.New(d), &fs.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
		MountOptions: fuse.MountOptions{
			Debug:      rootOpts.Verbose,
			AllowOther: cfg.Mount.AllowOther,
			FsName:     "chainfs",
			Name:       "chainfs",
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Metrics.Listen != "" {
		go func() {
			err := metrics.Serve(ctx, cfg.Metrics.Listen, reg)
			if err != nil {
				log.WithError(err).Error("metrics endpoint failed")
			}
		}()
	}

	fmt.Printf("mounted in %v\n", time.Since(t0))
	fmt.Printf("to unmount: fusermount -u %s\n", mnt)

	stop := unmountOnSignal(server)
	defer stop()
	server.Wait()

	if n := d.OpenFiles(); n > 0 {
		log.WithField("open", n).Warn("unmounted with open files")
	}
	return nil
}

// unmountOnSignal unmounts the server on SIGINT or SIGTERM. Unmounting a
// busy filesystem fails, so it is retried for a while.
func unmountOnSignal(server *fuse.Server) (stop func()) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigc:
			log.WithField("signal", sig).Info("unmounting")
		case <-done:
			return
		}

		for i := 0; i < unmountAttempts; i++ {
			err := server.Unmount()
			if err == nil {
				return
			}
			log.WithError(err).WithField("attempt", i+1).Warn("cannot unmount")

			select {
			case <-time.After(unmountBackoff):
			case <-done:
				return
			}
		}
		log.Error("giving up on unmount, use fusermount -u")
	}()

	return func() {
		signal.Stop(sigc)
		close(done)
	}
}

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.PersistentFlags().BoolVar(&mountOpts.AllowOther, "allow-other", false, "allow other users to access the filesystem")
	mountCmd.PersistentFlags().BoolVar(&mountOpts.Daemon, "daemon", false, "mount in the background")
}

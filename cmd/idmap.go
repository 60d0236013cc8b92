package cmd

import (
	"os"

	"github.com/csweichel/chainfs/pkg/identity"
	"github.com/csweichel/chainfs/pkg/store/ethstore"
	badger "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// idmapCmd represents the idmap command
var idmapCmd = &cobra.Command{
	Use:   "idmap",
	Short: "Inspects and edits the mapping between local ids and remote identities",
}

// openIdentities opens the identity map persisted in dir. An empty dir keeps
// the map in memory.
func openIdentities(dir string, caller common.Address) (*identity.Map, func(), error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, nil, err
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, err
	}
	m, err := identity.Open(db, identity.Self{
		UID:     uint32(os.Getuid()),
		GID:     uint32(os.Getgid()),
		Address: caller,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return m, func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("cannot close identity map")
		}
	}, nil
}

// localCaller derives the remote identity from the configured credential.
// Without one the zero address is used.
func localCaller() common.Address {
	if cfg.Remote.Credential == "" {
		return common.Address{}
	}
	key, err := cfg.Remote.ReadCredential()
	if err != nil {
		log.WithError(err).Warn("cannot read credential, using zero address")
		return common.Address{}
	}
	_, addr, err := ethstore.ParseCredential(key)
	if err != nil {
		log.WithError(err).Warn("invalid credential, using zero address")
		return common.Address{}
	}
	return addr
}

func init() {
	rootCmd.AddCommand(idmapCmd)
}

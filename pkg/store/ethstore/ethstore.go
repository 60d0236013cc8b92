// Package ethstore implements store.Store against a kernel contract on an
// Ethereum JSON-RPC endpoint.
package ethstore

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/csweichel/chainfs/pkg/pathenc"
	"github.com/csweichel/chainfs/pkg/store"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const revertPrefix = "execution reverted"

// Options configure a connection to the kernel contract.
type Options struct {
	Endpoint string
	Contract common.Address
	// Credential is the hex encoded private key used to sign transactions.
	Credential string
	// Token is an optional bearer token sent to the endpoint.
	Token string
	// ChainID is queried from the endpoint when zero.
	ChainID     int64
	CallTimeout time.Duration
}

// Store talks to the kernel contract. Reads are eth_call queries, mutations
// are signed transactions that are awaited until mined.
type Store struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	auth     *bind.TransactOpts
	from     common.Address
	timeout  time.Duration

	// txMu serialises submission so nonces are assigned in order. It is
	// released before the receipt is awaited.
	txMu sync.Mutex
}

var _ store.Store = (*Store)(nil)
var _ store.CodeSizer = (*Store)(nil)

// ParseCredential decodes a hex private key, with or without 0x prefix.
func ParseCredential(hexkey string) (*ecdsa.PrivateKey, common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexkey), "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("invalid credential: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// Dial connects to the endpoint and binds the kernel contract.
func Dial(ctx context.Context, opts Options) (*Store, error) {
	key, from, err := ParseCredential(opts.Credential)
	if err != nil {
		return nil, err
	}

	var dialOpts []rpc.ClientOption
	if opts.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		dialOpts = append(dialOpts, rpc.WithHTTPClient(oauth2.NewClient(context.Background(), src)))
	}
	rc, err := rpc.DialOptions(ctx, opts.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %s: %w", opts.Endpoint, err)
	}
	client := ethclient.NewClient(rc)

	chainID := big.NewInt(opts.ChainID)
	if opts.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("cannot query chain id: %w", err)
		}
	}

	parsed, err := abi.JSON(strings.NewReader(kernelABI))
	if err != nil {
		client.Close()
		return nil, err
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"endpoint": opts.Endpoint,
		"contract": opts.Contract.Hex(),
		"caller":   from.Hex(),
		"chainID":  chainID.String(),
	}).Info("connected to kernel contract")

	return &Store{
		client:   client,
		contract: bind.NewBoundContract(opts.Contract, parsed, client, client, client),
		abi:      parsed,
		auth:     auth,
		from:     from,
		timeout:  opts.CallTimeout,
	}, nil
}

// Caller is the address transactions are sent from.
func (s *Store) Caller() common.Address { return s.from }

// Disconnect releases the RPC connection.
func (s *Store) Disconnect() { s.client.Close() }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out []interface{}
	err := s.contract.Call(&bind.CallOpts{Context: ctx, From: s.from}, &out, method, params...)
	if err != nil {
		return nil, remoteError(method, err)
	}
	return out, nil
}

func (s *Store) transact(ctx context.Context, method string, params ...interface{}) (*types.Receipt, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.txMu.Lock()
	opts := *s.auth
	opts.Context = ctx
	tx, err := s.contract.Transact(&opts, method, params...)
	s.txMu.Unlock()
	if err != nil {
		return nil, remoteError(method, err)
	}

	log.WithField("tx", tx.Hash().Hex()).WithField("method", method).Debug("transaction submitted")
	receipt, err := bind.WaitMined(ctx, s.client, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: waiting for %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &store.RemoteError{Method: method, Err: fmt.Errorf("transaction %s failed", tx.Hash().Hex())}
	}
	return receipt, nil
}

// remoteError extracts the revert reason from a failed call. Errors that do
// not stem from a revert are returned unchanged.
func remoteError(method string, err error) error {
	var de rpc.DataError
	if errors.As(err, &de) {
		if hexdata, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(hexdata); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return &store.RemoteError{Method: method, Reason: reason, Err: err}
				}
			}
		}
	}
	if reason, ok := parseRevert(err.Error()); ok {
		return &store.RemoteError{Method: method, Reason: reason, Err: err}
	}
	return err
}

// parseRevert finds "execution reverted[: reason]" in an error message.
func parseRevert(msg string) (reason string, ok bool) {
	i := strings.Index(msg, revertPrefix)
	if i < 0 {
		return "", false
	}
	rest := msg[i+len(revertPrefix):]
	if !strings.HasPrefix(rest, ":") {
		return "", true
	}
	return strings.TrimSpace(rest[1:]), true
}

func segments(p store.Path) [][32]byte {
	res := make([][32]byte, len(p))
	for i, seg := range p {
		res[i] = pathenc.Fixed(seg)
	}
	return res
}

func u256(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func bigU64(v interface{}) (uint64, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return 0, fmt.Errorf("unexpected value %T", v)
	}
	if !b.IsUint64() {
		return 0, fmt.Errorf("value %s out of range", b)
	}
	return b.Uint64(), nil
}

func entryFrom(out []interface{}) (store.Entry, error) {
	if len(out) != 7 {
		return store.Entry{}, fmt.Errorf("unexpected stat result with %d values", len(out))
	}
	kind, ok := out[0].(uint8)
	if !ok {
		return store.Entry{}, fmt.Errorf("unexpected file type %T", out[0])
	}
	perm, ok := out[1].(uint16)
	if !ok {
		return store.Entry{}, fmt.Errorf("unexpected permissions %T", out[1])
	}
	owner, ok := out[3].(common.Address)
	if !ok {
		return store.Entry{}, fmt.Errorf("unexpected owner %T", out[3])
	}
	group, ok := out[4].(common.Address)
	if !ok {
		return store.Entry{}, fmt.Errorf("unexpected group %T", out[4])
	}
	links, err := bigU64(out[2])
	if err != nil {
		return store.Entry{}, err
	}
	entries, err := bigU64(out[5])
	if err != nil {
		return store.Entry{}, err
	}
	mtime, err := bigU64(out[6])
	if err != nil {
		return store.Entry{}, err
	}

	return store.Entry{
		Kind:         store.Kind(kind),
		Mode:         uint32(perm),
		Links:        links,
		Owner:        owner,
		Group:        group,
		Entries:      entries,
		LastModified: int64(mtime),
	}, nil
}

func (s *Store) stat(ctx context.Context, method string, param interface{}) (store.Entry, error) {
	out, err := s.call(ctx, method, param)
	if err != nil {
		return store.Entry{}, err
	}
	return entryFrom(out)
}

func (s *Store) bytesResult(ctx context.Context, method string, params ...interface{}) ([]byte, error) {
	out, err := s.call(ctx, method, params...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: unexpected result with %d values", method, len(out))
	}
	b, ok := out[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result %T", method, out[0])
	}
	return b, nil
}

func (s *Store) Stat(ctx context.Context, p store.Path) (store.Entry, error) {
	return s.stat(ctx, "stat", segments(p))
}

func (s *Store) Lstat(ctx context.Context, p store.Path) (store.Entry, error) {
	return s.stat(ctx, "lstat", segments(p))
}

func (s *Store) Fstat(ctx context.Context, h store.Handle) (store.Entry, error) {
	return s.stat(ctx, "fstat", u256(uint64(h)))
}

func (s *Store) ReadKeyPath(ctx context.Context, p store.Path, index uint64) ([]byte, error) {
	out, err := s.call(ctx, "readkeyPath", segments(p), u256(index))
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("readkeyPath: unexpected result with %d values", len(out))
	}
	k, ok := out[0].([32]byte)
	if !ok {
		return nil, fmt.Errorf("readkeyPath: unexpected result %T", out[0])
	}
	return k[:], nil
}

// Open submits the open transaction and takes the handle from the Opened
// event emitted for this caller.
func (s *Store) Open(ctx context.Context, p store.Path, flags store.Flags) (store.Handle, error) {
	receipt, err := s.transact(ctx, "open", segments(p), u256(uint64(flags)))
	if err != nil {
		return 0, err
	}

	id := s.abi.Events["Opened"].ID
	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 || l.Topics[0] != id {
			continue
		}
		var ev struct {
			Caller common.Address
			Fd     *big.Int
		}
		if err := s.contract.UnpackLog(&ev, "Opened", *l); err != nil {
			return 0, fmt.Errorf("open: %w", err)
		}
		if ev.Caller != s.from {
			continue
		}
		fd, err := bigU64(ev.Fd)
		if err != nil {
			return 0, fmt.Errorf("open: %w", err)
		}
		return store.Handle(fd), nil
	}
	return 0, fmt.Errorf("open: transaction %s emitted no handle", receipt.TxHash.Hex())
}

func (s *Store) Read(ctx context.Context, h store.Handle, key []byte) ([]byte, error) {
	return s.bytesResult(ctx, "read", u256(uint64(h)), pathenc.Fixed(key))
}

func (s *Store) ReadPath(ctx context.Context, p store.Path, key []byte) ([]byte, error) {
	return s.bytesResult(ctx, "read2", segments(p), pathenc.Fixed(key))
}

func (s *Store) Write(ctx context.Context, h store.Handle, key, data []byte) error {
	_, err := s.transact(ctx, "write", u256(uint64(h)), pathenc.Fixed(key), data)
	return err
}

func (s *Store) Truncate(ctx context.Context, h store.Handle, key []byte, size uint64) error {
	_, err := s.transact(ctx, "truncate", u256(uint64(h)), pathenc.Fixed(key), u256(size))
	return err
}

func (s *Store) Clear(ctx context.Context, h store.Handle, key []byte) error {
	_, err := s.transact(ctx, "clear", u256(uint64(h)), pathenc.Fixed(key))
	return err
}

func (s *Store) Close(ctx context.Context, h store.Handle) error {
	_, err := s.transact(ctx, "close", u256(uint64(h)))
	return err
}

func (s *Store) Mkdir(ctx context.Context, p store.Path) error {
	_, err := s.transact(ctx, "mkdir", segments(p))
	return err
}

func (s *Store) Rmdir(ctx context.Context, p store.Path) error {
	_, err := s.transact(ctx, "rmdir", segments(p))
	return err
}

func (s *Store) Unlink(ctx context.Context, p store.Path) error {
	_, err := s.transact(ctx, "unlink", segments(p))
	return err
}

func (s *Store) Link(ctx context.Context, source, target store.Path) error {
	_, err := s.transact(ctx, "link", segments(source), segments(target))
	return err
}

func (s *Store) Symlink(ctx context.Context, target []byte, link store.Path) error {
	_, err := s.transact(ctx, "symlink", target, segments(link))
	return err
}

func (s *Store) Readlink(ctx context.Context, p store.Path) ([]byte, error) {
	return s.bytesResult(ctx, "readlink", segments(p))
}

func (s *Store) Rename(ctx context.Context, source, target store.Path) error {
	_, err := s.transact(ctx, "rename", segments(source), segments(target))
	return err
}

func (s *Store) Chmod(ctx context.Context, p store.Path, mode uint32) error {
	_, err := s.transact(ctx, "chmod", segments(p), uint16(mode&0o7777))
	return err
}

func (s *Store) Chown(ctx context.Context, p store.Path, owner, group common.Address) error {
	_, err := s.transact(ctx, "chown", segments(p), owner, group)
	return err
}

// CodeSize reports the deployed code length at owner, the account a
// program entry is addressed by.
func (s *Store) CodeSize(ctx context.Context, owner common.Address) (uint64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	code, err := s.client.CodeAt(ctx, owner, nil)
	if err != nil {
		return 0, err
	}
	return uint64(len(code)), nil
}

package signing

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/sha3"
)

// The phantom signing domain. ChainID 1337 is a signing namespace only,
// never a live network; the verifying contract is the zero address.
const (
	PhantomChainID   = 1337
	phantomName      = "Exchange"
	phantomVersion   = "1"
	zeroContract     = "0x0000000000000000000000000000000000000000"
	sourceMainnet    = "a"
	sourceTestnet    = "b"
	phantomChainName = "HL Signer"
)

// PhantomDomain is the fixed typed-data domain for Agent signatures.
var PhantomDomain = TypedDataDomain{
	Name:              phantomName,
	Version:           phantomVersion,
	ChainID:           PhantomChainID,
	VerifyingContract: zeroContract,
}

// AgentTypes is the typed-data struct set for Agent signatures.
var AgentTypes = map[string][]TypedDataField{
	"Agent": {
		{Name: "source", Type: "string"},
		{Name: "connectionId", Type: "bytes32"},
	},
}

// phantomChain describes the signing chain for wallet registration when
// the wallet does not know chain 1337.
var phantomChain = ChainDescriptor{
	ChainID:   PhantomChainID,
	Name:      phantomChainName,
	RPCURLs:   []string{"https://rpc.ankr.com/eth"},
	Explorers: []string{"https://etherscan.io"},
}

// ActionHash computes the keccak256 digest of the canonical action bytes.
// Layout: msgpack(action) || nonce (8 bytes big-endian) || vault flag
// (0x00, or 0x01 followed by the 20-byte vault address).
//
// The action must already carry canonical decimal strings (see
// TrimTrailingZeros); msgpack encodes struct fields in declared order, so
// equal actions produce equal bytes.
func ActionHash(action any, vault *Address, nonce uint64) ([32]byte, error) {
	var digest [32]byte

	packed, err := msgpack.Marshal(action)
	if err != nil {
		return digest, fmt.Errorf("msgpack action: %w", err)
	}

	data := make([]byte, 0, len(packed)+29)
	data = append(data, packed...)
	data = binary.BigEndian.AppendUint64(data, nonce)
	if vault == nil {
		data = append(data, 0)
	} else {
		data = append(data, 1)
		data = append(data, vault[:]...)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// Signer requests Agent signatures over action hashes from a wallet,
// switching to the phantom chain around each signature and restoring the
// wallet's original chain afterward.
//
// Signing operations on the same Signer are serialized: the wallet's
// selected chain is a critical section between prepare and restore.
type Signer struct {
	wallet Wallet
	source string
	logger *log.Logger

	mu sync.Mutex
}

// NewSigner creates a Signer. mainnet selects the Agent source tag.
func NewSigner(wallet Wallet, mainnet bool, logger *log.Logger) *Signer {
	source := sourceTestnet
	if mainnet {
		source = sourceMainnet
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Signer{wallet: wallet, source: source, logger: logger}
}

// PrepareChain records the wallet's current chain id and switches to the
// phantom chain, registering it first if the wallet does not know it.
// Returns the original chain id for the later restore.
func (s *Signer) PrepareChain(ctx context.Context) (int64, error) {
	original, err := s.wallet.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("read wallet chain id: %w", err)
	}
	if original == PhantomChainID {
		return original, nil
	}

	if err := s.wallet.RequestAccounts(ctx); err != nil {
		if IsUserRejected(err) {
			return 0, fmt.Errorf("%w: account access", ErrUserRejected)
		}
		return 0, fmt.Errorf("request accounts: %w", err)
	}

	if err := s.wallet.SwitchChain(ctx, PhantomChainID); err != nil {
		if isChainUnknown(err) {
			if err := s.wallet.AddChain(ctx, phantomChain); err != nil {
				if IsUserRejected(err) {
					return 0, fmt.Errorf("%w: add signing chain", ErrUserRejected)
				}
				return 0, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
			}
			if err := s.wallet.SwitchChain(ctx, PhantomChainID); err != nil {
				if IsUserRejected(err) {
					return 0, fmt.Errorf("%w: chain switch", ErrUserRejected)
				}
				return 0, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
			}
			return original, nil
		}
		if IsUserRejected(err) {
			return 0, fmt.Errorf("%w: chain switch", ErrUserRejected)
		}
		return 0, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return original, nil
}

// RestoreChain switches the wallet back to its original chain.
// Best-effort: a failure is logged and swallowed so the order flow is
// never blocked by an inability to restore the prior network.
func (s *Signer) RestoreChain(ctx context.Context, originalChainID int64) {
	if originalChainID == PhantomChainID {
		return
	}
	if err := s.wallet.SwitchChain(ctx, originalChainID); err != nil {
		s.logger.Printf("restore wallet chain %d failed: %v", originalChainID, err)
	}
}

// SignAction canonical-hashes the action with the nonce and vault flag and
// requests an Agent typed-data signature under the phantom domain. The
// original chain is restored on every exit path.
func (s *Signer) SignAction(ctx context.Context, action any, vault *Address, nonce uint64) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, err := ActionHash(action, vault, nonce)
	if err != nil {
		return Signature{}, err
	}

	original, err := s.PrepareChain(ctx)
	if err != nil {
		return Signature{}, err
	}
	defer s.RestoreChain(ctx, original)

	sigHex, err := s.wallet.SignTypedData(ctx, TypedDataRequest{
		Domain:      PhantomDomain,
		Types:       AgentTypes,
		PrimaryType: "Agent",
		Message: map[string]any{
			"source":       s.source,
			"connectionId": "0x" + hex.EncodeToString(hash[:]),
		},
	})
	if err != nil {
		if IsUserRejected(err) {
			return Signature{}, fmt.Errorf("%w: signature", ErrUserRejected)
		}
		return Signature{}, fmt.Errorf("sign typed data: %w", err)
	}

	return ParseSignature(sigHex)
}

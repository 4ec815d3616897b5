// Package signing produces authenticated signatures for exchange actions.
//
// Actions are canonicalized, msgpack-encoded, hashed with keccak256
// together with the nonce and vault flag, and signed as EIP-712 typed data
// under a fixed phantom domain. The wallet provider is an external
// collaborator consumed through the Wallet interface.
package signing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Provider error codes surfaced by wallet implementations.
const (
	CodeUserRejected = 4001
	CodeChainUnknown = 4902
)

// Sentinel errors for the caller's taxonomy.
var (
	// ErrUserRejected means the user declined a chain switch or signature.
	// It is recovered by informing the user; never retried automatically.
	ErrUserRejected = errors.New("wallet: user rejected request")

	// ErrChainUnavailable means the wallet could not add or switch to the
	// signing chain. The order flow aborts.
	ErrChainUnavailable = errors.New("wallet: signing chain unavailable")
)

// ProviderError carries the raw wallet provider error code.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("wallet provider error %d: %s", e.Code, e.Message)
}

// IsUserRejected classifies a wallet failure as a user rejection so the
// caller can show "cancelled" instead of "error".
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Code == CodeUserRejected {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "user rejected")
}

func isChainUnknown(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == CodeChainUnknown
}

// Address is a 20-byte account address.
type Address [20]byte

// ParseAddress decodes a 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw := strings.TrimPrefix(strings.ToLower(s), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return a, fmt.Errorf("parse address: %w", err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("parse address: expected 20 bytes, got %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Hex returns the 0x-prefixed lowercase hex form.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// TypedDataDomain is the EIP-712 domain of a typed-data signature request.
type TypedDataDomain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// TypedDataField describes one field of a typed-data struct.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypedDataRequest is a full signTypedData request: domain, named struct
// types, the primary type, and the message values.
type TypedDataRequest struct {
	Domain      TypedDataDomain             `json:"domain"`
	Types       map[string][]TypedDataField `json:"types"`
	PrimaryType string                      `json:"primaryType"`
	Message     map[string]any              `json:"message"`
}

// ChainDescriptor describes a chain for wallet_addEthereumChain.
type ChainDescriptor struct {
	ChainID   int64
	Name      string
	RPCURLs   []string
	Explorers []string
}

// Wallet is the connected wallet provider boundary. Implementations
// translate these calls into provider requests; failures carry
// ProviderError codes where the provider reports them.
type Wallet interface {
	// ChainID returns the wallet's currently selected chain id.
	ChainID(ctx context.Context) (int64, error)

	// RequestAccounts asks for account access.
	RequestAccounts(ctx context.Context) error

	// SwitchChain selects the given chain. Returns a ProviderError with
	// CodeChainUnknown when the wallet does not know the chain.
	SwitchChain(ctx context.Context, chainID int64) error

	// AddChain registers a chain with the wallet.
	AddChain(ctx context.Context, desc ChainDescriptor) error

	// SignTypedData signs the request and returns the 65-byte signature
	// as 0x-prefixed hex.
	SignTypedData(ctx context.Context, req TypedDataRequest) (string, error)
}

// Signature is a structured secp256k1 signature.
type Signature struct {
	R string `json:"r"` // 0x-prefixed 32-byte hex
	S string `json:"s"` // 0x-prefixed 32-byte hex
	V uint8  `json:"v"` // 27 or 28
}

// ParseSignature splits a 65-byte hex signature into r, s, v.
// Wallets disagree on v being 0/1 or 27/28; both are normalized to 27/28.
func ParseSignature(sigHex string) (Signature, error) {
	raw := strings.TrimPrefix(sigHex, "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Signature{}, fmt.Errorf("parse signature: %w", err)
	}
	if len(b) != 65 {
		return Signature{}, fmt.Errorf("parse signature: expected 65 bytes, got %d", len(b))
	}
	v := b[64]
	if v < 27 {
		v += 27
	}
	return Signature{
		R: "0x" + hex.EncodeToString(b[0:32]),
		S: "0x" + hex.EncodeToString(b[32:64]),
		V: v,
	}, nil
}

package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// BridgeWallet talks JSON-RPC to an external wallet provider endpoint.
// The provider holds the key; this process never sees it.
type BridgeWallet struct {
	endpoint string
	address  string
	client   *http.Client
	nextID   atomic.Int64
}

// NewBridgeWallet creates a wallet bound to one provider endpoint and
// signing address.
func NewBridgeWallet(endpoint, address string) *BridgeWallet {
	return &BridgeWallet{
		endpoint: endpoint,
		address:  strings.ToLower(address),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (w *BridgeWallet) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      w.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: provider returned status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return &ProviderError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// ChainID returns the provider's selected chain id.
func (w *BridgeWallet) ChainID(ctx context.Context) (int64, error) {
	var hexID string
	if err := w.call(ctx, "eth_chainId", []any{}, &hexID); err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(hexID, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chain id %q: %w", hexID, err)
	}
	return id, nil
}

// RequestAccounts asks the provider for account access.
func (w *BridgeWallet) RequestAccounts(ctx context.Context) error {
	var accounts []string
	return w.call(ctx, "eth_requestAccounts", []any{}, &accounts)
}

// SwitchChain selects the given chain on the provider.
func (w *BridgeWallet) SwitchChain(ctx context.Context, chainID int64) error {
	params := []any{map[string]string{"chainId": hexChainID(chainID)}}
	return w.call(ctx, "wallet_switchEthereumChain", params, nil)
}

// AddChain registers a chain with the provider.
func (w *BridgeWallet) AddChain(ctx context.Context, desc ChainDescriptor) error {
	params := []any{map[string]any{
		"chainId":           hexChainID(desc.ChainID),
		"chainName":         desc.Name,
		"rpcUrls":           desc.RPCURLs,
		"blockExplorerUrls": desc.Explorers,
	}}
	return w.call(ctx, "wallet_addEthereumChain", params, nil)
}

// SignTypedData signs via eth_signTypedData_v4. The typed data travels
// as a JSON string, per the provider convention.
func (w *BridgeWallet) SignTypedData(ctx context.Context, req TypedDataRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal typed data: %w", err)
	}

	var sig string
	if err := w.call(ctx, "eth_signTypedData_v4", []any{w.address, string(payload)}, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

func hexChainID(id int64) string {
	return "0x" + strconv.FormatInt(id, 16)
}

var _ Wallet = (*BridgeWallet)(nil)

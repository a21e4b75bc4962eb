package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"sessionvault/core/types"
	"sessionvault/crypto"
)

// Client is a typed JSON-RPC client for a vault node. Rejections are returned
// as *RPCError so callers can match vault and runtime sentinels with errors.Is.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Uint64
}

// NewClient targets the node at endpoint. A nil httpClient uses a client with a
// ten second timeout.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{endpoint: strings.TrimRight(endpoint, "/"), http: httpClient}
}

func (c *Client) call(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	encodedParams := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		encodedParams = append(encodedParams, raw)
	}
	id, _ := json.Marshal(c.nextID.Add(1))
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: encodedParams, ID: id})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes*8))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	var decoded RPCResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("%s: http %d: %w", method, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if result == nil || len(decoded.Result) == 0 {
		return nil
	}
	return json.Unmarshal(decoded.Result, result)
}

// SendTransaction submits a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (*SendTransactionResult, error) {
	if tx == nil {
		return nil, errors.New("rpc: nil transaction")
	}
	var out SendTransactionResult
	if err := c.call(ctx, "ledger_sendTransaction", &out, tx); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns the lamports held by addr.
func (c *Client) Balance(ctx context.Context, addr crypto.PublicKey) (uint64, error) {
	var out BalanceResult
	if err := c.call(ctx, "ledger_getBalance", &out, addr); err != nil {
		return 0, err
	}
	return out.Lamports, nil
}

// Account returns the raw account at addr, or nil when it does not exist.
func (c *Client) Account(ctx context.Context, addr crypto.PublicKey) (*types.Account, error) {
	var out *types.Account
	if err := c.call(ctx, "ledger_getAccount", &out, addr); err != nil {
		return nil, err
	}
	return out, nil
}

// Airdrop mints amount to addr on development nodes and returns the new balance.
func (c *Client) Airdrop(ctx context.Context, addr crypto.PublicKey, amount uint64) (uint64, error) {
	var out BalanceResult
	if err := c.call(ctx, "ledger_airdrop", &out, addr, amount); err != nil {
		return 0, err
	}
	return out.Lamports, nil
}

// Config returns the vault config, or nil before bootstrap.
func (c *Client) Config(ctx context.Context) (*ConfigResult, error) {
	var out *ConfigResult
	if err := c.call(ctx, "vault_getConfig", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Session returns the session slot of player, or nil before its first deposit.
func (c *Client) Session(ctx context.Context, player crypto.PublicKey) (*SessionResult, error) {
	var out *SessionResult
	if err := c.call(ctx, "vault_getSession", &out, player); err != nil {
		return nil, err
	}
	return out, nil
}

// Addresses returns the derived program accounts. When player is non-nil the
// player's session address is included.
func (c *Client) Addresses(ctx context.Context, player *crypto.PublicKey) (*AddressesResult, error) {
	var out AddressesResult
	var err error
	if player != nil {
		err = c.call(ctx, "vault_addresses", &out, *player)
	} else {
		err = c.call(ctx, "vault_addresses", &out)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"sessionvault/core/events"
	"sessionvault/core/runtime"
	"sessionvault/core/types"
	"sessionvault/crypto"
	"sessionvault/native/vault"
	"sessionvault/storage"
)

const testNow int64 = 1_700_000_000

type testNode struct {
	t         *testing.T
	rt        *runtime.Runtime
	feed      *events.Feed
	server    *httptest.Server
	client    *Client
	authority *crypto.Keypair
	player    *crypto.Keypair
	treasury  crypto.PublicKey
	salt      uint64
}

func mustKeypair(t *testing.T) *crypto.Keypair {
	t.Helper()
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return kp
}

func newTestNode(t *testing.T, airdrop bool) *testNode {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := events.NewFeed(64)
	rt := runtime.New(storage.NewMemDB(),
		runtime.WithEmitter(feed),
		runtime.WithAirdrop(airdrop),
		runtime.WithNowFunc(func() int64 { return testNow }),
		runtime.WithLogger(logger),
	)
	program, err := vault.New(vault.DefaultProgramID)
	if err != nil {
		t.Fatalf("new program: %v", err)
	}
	if err := rt.Register(program); err != nil {
		t.Fatalf("register: %v", err)
	}
	srv := httptest.NewServer(NewServer(rt, feed, vault.DefaultProgramID, WithLogger(logger)).Handler())
	t.Cleanup(srv.Close)
	return &testNode{
		t:         t,
		rt:        rt,
		feed:      feed,
		server:    srv,
		client:    NewClient(srv.URL, srv.Client()),
		authority: mustKeypair(t),
		player:    mustKeypair(t),
		treasury:  mustKeypair(t).PublicKey(),
	}
}

func (n *testNode) send(signer *crypto.Keypair, ixs ...types.Instruction) (*SendTransactionResult, error) {
	n.t.Helper()
	n.salt++
	tx := types.NewTransaction(n.salt, ixs...)
	if err := tx.Sign(signer); err != nil {
		n.t.Fatalf("sign: %v", err)
	}
	return n.client.SendTransaction(context.Background(), tx)
}

func (n *testNode) bootstrap() {
	n.t.Helper()
	ix, err := vault.NewBootstrapInstruction(vault.DefaultProgramID, n.authority.PublicKey(), n.treasury)
	if err != nil {
		n.t.Fatalf("bootstrap instruction: %v", err)
	}
	if _, err := n.send(n.authority, ix); err != nil {
		n.t.Fatalf("bootstrap: %v", err)
	}
}

func (n *testNode) fundAndDeposit(tier uint8) {
	n.t.Helper()
	ctx := context.Background()
	if _, err := n.client.Airdrop(ctx, n.player.PublicKey(), 50*vault.BaseUnitsPerCoin); err != nil {
		n.t.Fatalf("airdrop: %v", err)
	}
	ix, err := vault.NewDepositInstruction(vault.DefaultProgramID, n.player.PublicKey(), tier)
	if err != nil {
		n.t.Fatalf("deposit instruction: %v", err)
	}
	if _, err := n.send(n.player, ix); err != nil {
		n.t.Fatalf("deposit: %v", err)
	}
}

func TestSessionLifecycleOverRPC(t *testing.T) {
	node := newTestNode(t, true)
	ctx := context.Background()

	cfg, err := node.client.Config(ctx)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected no config before bootstrap, got %+v", cfg)
	}

	node.bootstrap()
	node.fundAndDeposit(5)

	cfg, err = node.client.Config(ctx)
	if err != nil || cfg == nil {
		t.Fatalf("config after bootstrap: %v %+v", err, cfg)
	}
	if cfg.Authority != node.authority.PublicKey() || cfg.Treasury != node.treasury {
		t.Fatalf("unexpected config %+v", cfg)
	}

	session, err := node.client.Session(ctx, node.player.PublicKey())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if !session.Active() || session.Nonce != 1 || session.DepositAmount != 5*vault.BaseUnitsPerCoin {
		t.Fatalf("unexpected session %+v", session)
	}

	auth := vault.SignAuthorization(node.authority, vault.DefaultProgramID, node.player.PublicKey(), 5*vault.BaseUnitsPerCoin, session.Nonce, testNow+120)
	ixs, err := vault.CashoutInstructions(vault.DefaultProgramID, node.treasury, auth, 5*vault.BaseUnitsPerCoin)
	if err != nil {
		t.Fatalf("cashout instructions: %v", err)
	}
	res, err := node.send(node.player, ixs...)
	if err != nil {
		t.Fatalf("cashout: %v", err)
	}
	if !strings.HasPrefix(res.Hash, "0x") || len(res.Events) == 0 {
		t.Fatalf("unexpected send result %+v", res)
	}

	treasury, err := node.client.Balance(ctx, node.treasury)
	if err != nil {
		t.Fatalf("treasury balance: %v", err)
	}
	if treasury != 500_000_000 {
		t.Fatalf("expected treasury fee 500000000, got %d", treasury)
	}

	session, err = node.client.Session(ctx, node.player.PublicKey())
	if err != nil {
		t.Fatalf("session after cashout: %v", err)
	}
	if session.Active() || session.Status != vault.StatusClosed.String() || session.Nonce != 2 {
		t.Fatalf("unexpected session after cashout %+v", session)
	}

	// Replaying the exact transaction is caught by the ledger before the program.
	node.salt--
	_, err = node.send(node.player, ixs...)
	if !errors.Is(err, runtime.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	// A fresh transaction with the spent authorization is rejected by the program.
	_, err = node.send(node.player, ixs...)
	if !errors.Is(err, vault.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != vault.CodeBase+2 || rpcErr.Message != "SessionNotActive" {
		t.Fatalf("unexpected rpc error %#v", err)
	}
}

func TestVaultErrorsCarryCodes(t *testing.T) {
	node := newTestNode(t, true)
	node.bootstrap()
	if _, err := node.client.Airdrop(context.Background(), node.player.PublicKey(), vault.BaseUnitsPerCoin); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
	ix, err := vault.NewDepositInstruction(vault.DefaultProgramID, node.player.PublicKey(), 2)
	if err != nil {
		t.Fatalf("deposit instruction: %v", err)
	}
	_, err = node.send(node.player, ix)
	if !errors.Is(err, vault.ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier, got %v", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != vault.CodeBase {
		t.Fatalf("expected code %d, got %#v", vault.CodeBase, err)
	}

	ix, err = vault.NewDepositInstruction(vault.DefaultProgramID, node.player.PublicKey(), 20)
	if err != nil {
		t.Fatalf("deposit instruction: %v", err)
	}
	_, err = node.send(node.player, ix)
	if !errors.Is(err, runtime.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestAirdropDisabled(t *testing.T) {
	node := newTestNode(t, false)
	_, err := node.client.Airdrop(context.Background(), node.player.PublicKey(), 10)
	if !errors.Is(err, runtime.ErrAirdropDisabled) {
		t.Fatalf("expected ErrAirdropDisabled, got %v", err)
	}
}

func TestAddressesIncludeSession(t *testing.T) {
	node := newTestNode(t, true)
	player := node.player.PublicKey()
	res, err := node.client.Addresses(context.Background(), &player)
	if err != nil {
		t.Fatalf("addresses: %v", err)
	}
	want, err := vault.DeriveAddresses(vault.DefaultProgramID)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if res.Addresses != want {
		t.Fatalf("unexpected addresses %+v", res.Addresses)
	}
	session, _, err := vault.SessionAddress(vault.DefaultProgramID, player)
	if err != nil {
		t.Fatalf("session address: %v", err)
	}
	if res.Session == nil || *res.Session != session {
		t.Fatalf("unexpected session address %v", res.Session)
	}
}

func TestRequestValidation(t *testing.T) {
	node := newTestNode(t, true)
	cases := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{"empty", "", http.StatusBadRequest, codeInvalidRequest},
		{"malformed", "{", http.StatusBadRequest, codeParseError},
		{"version", `{"jsonrpc":"1.0","method":"vault_addresses","id":1}`, http.StatusBadRequest, codeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"nope","id":1}`, http.StatusNotFound, codeMethodNotFound},
		{"bad address", `{"jsonrpc":"2.0","method":"ledger_getBalance","params":["xyz"],"id":1}`, http.StatusBadRequest, codeInvalidParams},
		{"missing tx", `{"jsonrpc":"2.0","method":"ledger_sendTransaction","params":[],"id":1}`, http.StatusBadRequest, codeInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(node.server.URL, "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.StatusCode)
			}
			var decoded RPCResponse
			if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if decoded.Error == nil || decoded.Error.Code != tc.code {
				t.Fatalf("expected code %d, got %+v", tc.code, decoded.Error)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	node := newTestNode(t, true)
	resp, err := http.Get(node.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestEventStreamReplaysBacklog(t *testing.T) {
	node := newTestNode(t, true)
	node.bootstrap()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(node.server.URL, "http") + "/ws/events?cursor=0"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read backlog: %v", err)
	}
	var first events.Notification
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Sequence != 1 || first.Event == nil || first.Event.Type != vault.EventTypeConfigInitialized {
		t.Fatalf("unexpected backlog notification %+v", first)
	}

	node.fundAndDeposit(1)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read live: %v", err)
		}
		var n events.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n.Event != nil && n.Event.Type == vault.EventTypeSessionCreated {
			if n.TxHash == "" {
				t.Fatalf("live notification missing tx hash")
			}
			return
		}
	}
}

func TestEventStreamRejectsBadCursor(t *testing.T) {
	node := newTestNode(t, true)
	resp, err := http.Get(node.server.URL + "/ws/events?cursor=abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

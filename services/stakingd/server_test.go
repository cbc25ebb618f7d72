package stakingd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"stakeledger/native/staking"
)

const (
	ownerToken = "owner-token"
	aliceToken = "alice-token"
	bobToken   = "bob-token"
)

var (
	testOwner = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	testAlice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testBob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	testPool  = common.HexToAddress("0x0000000000000000000000000000000000000aaa")
)

// switchPort replies with whatever error is queued, nil otherwise.
type switchPort struct {
	mu    sync.Mutex
	reply error
	calls int
}

func (p *switchPort) Transfer(context.Context, staking.Transfer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.reply
}

func (p *switchPort) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reply = err
}

type testServer struct {
	handler http.Handler
	engine  *staking.Engine
	port    *switchPort
	clock   *atomic.Uint64
}

func testPayload() InitPayload {
	return InitPayload{
		Owner:            testOwner.Hex(),
		StakingToken:     "0x0000000000000000000000000000000000000111",
		RewardToken:      "0x0000000000000000000000000000000000000222",
		DistributionTime: 10000,
		RewardTotal:      "1000",
	}
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()
	ts := &testServer{port: &switchPort{}, clock: new(atomic.Uint64)}
	ts.engine = staking.NewEngine(testPool,
		staking.WithTransferPort(ts.port),
		staking.WithClock(ts.clock.Load),
	)
	auth, err := NewAuthenticator(map[string]string{
		ownerToken: testOwner.Hex(),
		aliceToken: testAlice.Hex(),
		bobToken:   testBob.Hex(),
	})
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	srv, err := NewServer(ServerConfig{Service: ts.engine, Auth: auth, RateLimiter: limiter})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ts.handler = srv
	return ts
}

func newBootstrappedServer(t *testing.T) *testServer {
	t.Helper()
	ts := newTestServer(t, nil)
	if err := Bootstrap(context.Background(), ts.engine, testPayload()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	ts.handler.ServeHTTP(resp, req)
	return resp
}

func decodeEvent(t *testing.T, resp *httptest.ResponseRecorder) eventResponse {
	t.Helper()
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var out eventResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder, status int) errorResponse {
	t.Helper()
	if resp.Code != status {
		t.Fatalf("expected %d got %d: %s", status, resp.Code, resp.Body.String())
	}
	var out errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestServerStakeAndWithdraw(t *testing.T) {
	ts := newBootstrappedServer(t)

	evt := decodeEvent(t, ts.do(t, http.MethodPost, "/v1/stake", aliceToken, `{"amount":"1500"}`))
	require.Equal(t, "stake_accepted", evt.Event)
	require.NotNil(t, evt.TxID)
	require.Equal(t, uint64(0), *evt.TxID)
	require.Equal(t, "1500", evt.Amount)

	ts.clock.Store(1000)
	evt = decodeEvent(t, ts.do(t, http.MethodPost, "/v1/withdraw", aliceToken, `{"amount":"500"}`))
	require.Equal(t, "withdrawn", evt.Event)
	require.Equal(t, uint64(1), *evt.TxID)

	resp := ts.do(t, http.MethodGet, "/v1/pool", bobToken, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var pool poolResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &pool))
	require.True(t, pool.Initialized)
	require.Equal(t, "1000", pool.TotalStaked)
	require.Equal(t, testOwner.Hex(), pool.Owner)
	require.Equal(t, 1, pool.Stakers)
	require.Equal(t, 0, pool.PendingTransactions)

	resp = ts.do(t, http.MethodGet, "/v1/stakers/"+testAlice.Hex(), bobToken, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var staker stakerResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &staker))
	require.Equal(t, "1000", staker.Balance)
	require.NotEmpty(t, staker.Claimable)

	resp = ts.do(t, http.MethodGet, "/v1/stakers", bobToken, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var stakers map[string]stakerResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stakers))
	require.Len(t, stakers, 1)
	require.Contains(t, stakers, testAlice.Hex())

	resp = ts.do(t, http.MethodGet, "/v1/transactions", bobToken, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var txs []transactionResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &txs))
	require.Len(t, txs, 2)
	require.Equal(t, "stake", txs[0].Kind)
	require.Equal(t, "withdraw", txs[1].Kind)
	require.True(t, txs[1].Done)
	require.Equal(t, uint64(1000), txs[1].CompletedAt)
}

func TestServerRewardPayout(t *testing.T) {
	ts := newBootstrappedServer(t)
	decodeEvent(t, ts.do(t, http.MethodPost, "/v1/stake", aliceToken, `{"amount":"1000"}`))

	ts.clock.Store(10000)
	resp := ts.do(t, http.MethodGet, "/v1/stakers/"+testAlice.Hex()+"/reward", aliceToken, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var pending map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &pending))
	require.Equal(t, "1000", pending["reward"])

	evt := decodeEvent(t, ts.do(t, http.MethodPost, "/v1/reward", aliceToken, ""))
	require.Equal(t, "reward", evt.Event)
	require.Equal(t, "1000", evt.Amount)

	errResp := decodeError(t, ts.do(t, http.MethodPost, "/v1/reward", aliceToken, ""), http.StatusBadRequest)
	require.Equal(t, "zero_reward", errResp.Code)
	require.Nil(t, errResp.TxID)
}

func TestServerErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	errResp := decodeError(t, ts.do(t, http.MethodPost, "/v1/stake", aliceToken, `{"amount":"5"}`), http.StatusServiceUnavailable)
	require.Equal(t, "not_initialized", errResp.Code)

	require.NoError(t, Bootstrap(context.Background(), ts.engine, testPayload()))

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
		code   string
	}{
		{"zero stake", http.MethodPost, "/v1/stake", aliceToken, `{"amount":"0"}`, http.StatusBadRequest, "zero_amount"},
		{"bad amount", http.MethodPost, "/v1/stake", aliceToken, `{"amount":"lots"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown field", http.MethodPost, "/v1/stake", aliceToken, `{"amount":"1","memo":"x"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown staker", http.MethodPost, "/v1/withdraw", bobToken, `{"amount":"1"}`, http.StatusNotFound, "staker_not_found"},
		{"not owner", http.MethodPost, "/v1/config", aliceToken, `{"staking_token":"0x0000000000000000000000000000000000000111","reward_token":"0x0000000000000000000000000000000000000222","distribution_time":10,"reward_total":"10"}`, http.StatusForbidden, "not_owner"},
		{"zero time", http.MethodPost, "/v1/config", ownerToken, `{"staking_token":"0x0000000000000000000000000000000000000111","reward_token":"0x0000000000000000000000000000000000000222","distribution_time":0,"reward_total":"10"}`, http.StatusBadRequest, "zero_time"},
		{"bad token", http.MethodPost, "/v1/config", ownerToken, `{"staking_token":"nope","reward_token":"0x0000000000000000000000000000000000000222","distribution_time":10,"reward_total":"10"}`, http.StatusBadRequest, "invalid_request"},
		{"missing txid", http.MethodPost, "/v1/continue", aliceToken, `{}`, http.StatusBadRequest, "invalid_request"},
		{"unknown txid", http.MethodPost, "/v1/continue", aliceToken, `{"txid":42}`, http.StatusNotFound, "unknown_transaction"},
		{"bad address", http.MethodGet, "/v1/stakers/xyz", aliceToken, "", http.StatusBadRequest, "invalid_request"},
		{"missing staker", http.MethodGet, "/v1/stakers/" + testBob.Hex(), aliceToken, "", http.StatusNotFound, "staker_not_found"},
	}
	for _, tc := range cases {
		resp := ts.do(t, tc.method, tc.path, tc.token, tc.body)
		if resp.Code != tc.status {
			t.Fatalf("%s: expected %d got %d: %s", tc.name, tc.status, resp.Code, resp.Body.String())
		}
		var out errorResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
		if out.Code != tc.code {
			t.Fatalf("%s: expected code %s got %s", tc.name, tc.code, out.Code)
		}
	}

	decodeEvent(t, ts.do(t, http.MethodPost, "/v1/stake", aliceToken, `{"amount":"10"}`))
	errResp = decodeError(t, ts.do(t, http.MethodPost, "/v1/withdraw", aliceToken, `{"amount":"11"}`), http.StatusConflict)
	require.Equal(t, "insufficient_balance", errResp.Code)
	require.Equal(t, 1, ts.port.calls)
}

func TestServerConfigUpdate(t *testing.T) {
	ts := newBootstrappedServer(t)
	ts.clock.Store(500)
	resp := ts.do(t, http.MethodPost, "/v1/config", ownerToken,
		`{"staking_token":"0x0000000000000000000000000000000000000111","reward_token":"0x0000000000000000000000000000000000000333","distribution_time":2000,"reward_total":"4000"}`)
	evt := decodeEvent(t, resp)
	require.Equal(t, "updated", evt.Event)
	require.Nil(t, evt.TxID)
	require.NotContains(t, resp.Body.String(), "txid")

	pool := ts.engine.Pool()
	require.Equal(t, uint64(2000), pool.DistributionTime)
	require.Equal(t, uint64(500), pool.EmissionStartedAt)
	require.Equal(t, "50", pool.AllTimeEmitted.Dec())
	require.Equal(t, common.HexToAddress("0x333"), pool.RewardToken)
}

func TestServerFailedTransfer(t *testing.T) {
	ts := newBootstrappedServer(t)
	ts.port.set(errors.New("insufficient allowance"))

	errResp := decodeError(t, ts.do(t, http.MethodPost, "/v1/stake", aliceToken, `{"amount":"100"}`), http.StatusBadGateway)
	require.Equal(t, "transfer_failed", errResp.Code)
	require.NotNil(t, errResp.TxID)
	require.Equal(t, uint64(0), *errResp.TxID)
	require.Contains(t, errResp.Error, "insufficient allowance")

	pool := ts.engine.Pool()
	require.True(t, pool.TotalStaked.IsZero())
	require.Equal(t, 0, pool.PendingTransactions)
	require.Empty(t, ts.engine.Transactions())
}

func TestServerPendingTransferContinues(t *testing.T) {
	ts := newBootstrappedServer(t)
	ts.port.set(staking.ErrNoReply)

	errResp := decodeError(t, ts.do(t, http.MethodPost, "/v1/stake", aliceToken, `{"amount":"100"}`), http.StatusGatewayTimeout)
	require.Equal(t, "transfer_pending", errResp.Code)
	require.NotNil(t, errResp.TxID)
	txid := *errResp.TxID
	require.Equal(t, 1, ts.engine.Pool().PendingTransactions)

	// Another caller cannot see the pending transaction.
	body := `{"txid":0}`
	errResp = decodeError(t, ts.do(t, http.MethodPost, "/v1/continue", bobToken, body), http.StatusNotFound)
	require.Equal(t, "unknown_transaction", errResp.Code)

	ts.port.set(nil)
	evt := decodeEvent(t, ts.do(t, http.MethodPost, "/v1/continue", aliceToken, body))
	require.Equal(t, "stake_accepted", evt.Event)
	require.Equal(t, txid, *evt.TxID)
	require.Equal(t, "100", evt.Amount)

	evt = decodeEvent(t, ts.do(t, http.MethodPost, "/v1/continue", ownerToken, body))
	require.Equal(t, "transaction_processed", evt.Event)
	require.Equal(t, txid, *evt.TxID)
	require.Equal(t, 2, ts.port.calls)
	require.Equal(t, "100", ts.engine.Pool().TotalStaked.Dec())
}

func TestServerRequiresAuthentication(t *testing.T) {
	ts := newBootstrappedServer(t)

	resp := ts.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.Code)

	errResp := decodeError(t, ts.do(t, http.MethodGet, "/v1/pool", "", ""), http.StatusUnauthorized)
	require.Equal(t, "unauthorized", errResp.Code)

	decodeError(t, ts.do(t, http.MethodPost, "/v1/stake", "wrong-token", `{"amount":"1"}`), http.StatusUnauthorized)
	require.Equal(t, 0, ts.port.calls)
}

func TestServerRateLimitsMutations(t *testing.T) {
	limiter := NewRateLimiter(1, 1, time.Minute)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.clockNow = func() time.Time { return fixed }
	ts := newTestServer(t, limiter)
	require.NoError(t, Bootstrap(context.Background(), ts.engine, testPayload()))

	decodeEvent(t, ts.do(t, http.MethodPost, "/v1/stake", aliceToken, `{"amount":"1"}`))
	errResp := decodeError(t, ts.do(t, http.MethodPost, "/v1/stake", aliceToken, `{"amount":"1"}`), http.StatusTooManyRequests)
	require.Equal(t, "rate_limited", errResp.Code)

	// Other callers and read-only routes have their own budget.
	decodeEvent(t, ts.do(t, http.MethodPost, "/v1/stake", bobToken, `{"amount":"1"}`))
	resp := ts.do(t, http.MethodGet, "/v1/pool", aliceToken, "")
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	require.Error(t, err)
	engine := staking.NewEngine(testPool)
	_, err = NewServer(ServerConfig{Service: engine})
	require.Error(t, err)
}

func TestStatusForUnexpectedError(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	require.Equal(t, http.StatusConflict, statusFor(staking.ErrTransactionInFlight))
	require.Equal(t, http.StatusInternalServerError, statusFor(staking.ErrInvariantViolation))
}

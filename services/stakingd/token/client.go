package token

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"stakeledger/native/staking"
)

// ErrRejected reports that the token service definitively refused a transfer.
var ErrRejected = errors.New("token: transfer rejected")

// idempotencyNamespace scopes transfer keys generated by stakingd.
var idempotencyNamespace = uuid.MustParse("6f1c3c52-4b6e-4d8e-9a61-2f0f6f3b9d11")

// FuncPort adapts a callback to the staking.TokenTransferPort interface.
type FuncPort struct {
	TransferFunc func(ctx context.Context, req staking.Transfer) error
}

// Transfer delegates to the configured callback.
func (p FuncPort) Transfer(ctx context.Context, req staking.Transfer) error {
	if p.TransferFunc == nil {
		return fmt.Errorf("%w: token transfer port not configured", ErrRejected)
	}
	return p.TransferFunc(ctx, req)
}

// Config configures the HTTP token client.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Pool     common.Address
}

// Client calls the external token service over HTTP. Each transfer carries an
// Idempotency-Key derived from the pool and transaction id so a resumed
// transaction never executes twice on the token side.
type Client struct {
	endpoint string
	apiKey   string
	pool     common.Address
	http     *http.Client
}

// NewClient constructs a token service client.
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("token endpoint required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		pool:     cfg.Pool,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

type transferRequest struct {
	Token  string `json:"token"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type errorBody struct {
	Error string `json:"error"`
}

// IdempotencyKey derives the stable key for a pool transaction.
func IdempotencyKey(pool common.Address, txid uint64) string {
	name := make([]byte, common.AddressLength+8)
	copy(name, pool.Bytes())
	binary.BigEndian.PutUint64(name[common.AddressLength:], txid)
	return uuid.NewSHA1(idempotencyNamespace, name).String()
}

// Transfer implements staking.TokenTransferPort. Transport failures, timeouts
// and server errors leave the outcome unknown and are reported as
// staking.ErrNoReply; client errors are definitive rejections.
func (c *Client) Transfer(ctx context.Context, req staking.Transfer) error {
	payload, err := json.Marshal(transferRequest{
		Token:  req.Token.Hex(),
		From:   req.From.Hex(),
		To:     req.To.Hex(),
		Amount: req.Amount.Dec(),
	})
	if err != nil {
		return fmt.Errorf("%w: encode transfer: %v", ErrRejected, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/transfers", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRejected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", IdempotencyKey(c.pool, req.TxID))
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", staking.ErrNoReply, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: token service status %d", staking.ErrNoReply, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, reason(body))
	}
}

func reason(body []byte) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && strings.TrimSpace(parsed.Error) != "" {
		return parsed.Error
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "no reason given"
	}
	return text
}

package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/pkg/errors"
)

const (
	DefaultRequestTimeout   = 30 * time.Second
	DefaultMinConfirmations = 1

	maxResponseSize = 4 << 20

	// confirmation targets in blocks used for the fee tiers
	fastTarget     = 1
	standardTarget = 6
	slowTarget     = 144

	minFeeRate = 1.0
)

// ClientConfig configures an Esplora client.
type ClientConfig struct {
	URL string
	// MinConfirmations an output needs to be spendable.
	MinConfirmations int64
	Timeout          time.Duration
	Retry            chain.RetryConfig
}

// Client talks to an Esplora REST API (blockstream.info, mempool.space or a
// self hosted electrs).
type Client struct {
	baseURL    string
	minConf    int64
	retry      chain.RetryConfig
	httpClient *http.Client
}

// esploraUTXO is the wire format of /address/:address/utxo.
type esploraUTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("esplora URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.MinConfirmations < 0 {
		cfg.MinConfirmations = 0
	}

	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(cfg.URL), "/"),
		minConf:    cfg.MinConfirmations,
		retry:      cfg.Retry,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// TipHeight returns the height of the best block.
func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "bitcoin.tip_height", "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, walleterr.Wrap(walleterr.KindRPC, "bitcoin.tip_height", err)
	}
	return height, nil
}

// UTXOs returns the unspent outputs of address with their confirmation count.
func (c *Client) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	const op = "bitcoin.utxos"

	body, err := c.get(ctx, op, "/address/"+address+"/utxo")
	if err != nil {
		return nil, err
	}

	var raw []esploraUTXO
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, walleterr.Wrap(walleterr.KindRPC, op, err)
	}

	var tip int64
	for _, u := range raw {
		if u.Status.Confirmed {
			if tip, err = c.TipHeight(ctx); err != nil {
				return nil, err
			}
			break
		}
	}

	utxos := make([]UTXO, 0, len(raw))
	for _, u := range raw {
		var confs int64
		if u.Status.Confirmed && tip >= u.Status.BlockHeight {
			confs = tip - u.Status.BlockHeight + 1
		}
		utxos = append(utxos, UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Value:         btcutil.Amount(u.Value),
			Confirmations: confs,
			Spendable:     confs >= c.minConf,
		})
	}

	util.LogFromContext(ctx).Debug().
		Str("address", address).
		Int("utxos", len(utxos)).
		Int64("tip", tip).
		Msg("Fetched UTXOs")

	return utxos, nil
}

// FeeEstimates maps the confirmation target estimates to tiers. Rates are
// floored at 1 sat/vB.
func (c *Client) FeeEstimates(ctx context.Context) (*FeeEstimates, error) {
	const op = "bitcoin.fee_estimates"

	body, err := c.get(ctx, op, "/fee-estimates")
	if err != nil {
		return nil, err
	}

	var raw map[string]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, walleterr.Wrap(walleterr.KindRPC, op, err)
	}

	byTarget := make(map[int]float64, len(raw))
	targets := make([]int, 0, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(k)
		if err != nil || n <= 0 || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		byTarget[n] = v
		targets = append(targets, n)
	}
	if len(targets) == 0 {
		return nil, walleterr.New(walleterr.KindRPC, op, "no usable fee estimates")
	}
	sort.Ints(targets)

	return &FeeEstimates{
		Fast:     rateFor(byTarget, targets, fastTarget),
		Standard: rateFor(byTarget, targets, standardTarget),
		Slow:     rateFor(byTarget, targets, slowTarget),
	}, nil
}

// rateFor returns the estimate of the first target at or after want, or the
// slowest one available.
func rateFor(byTarget map[int]float64, targets []int, want int) float64 {
	rate := byTarget[targets[len(targets)-1]]
	for _, t := range targets {
		if t >= want {
			rate = byTarget[t]
			break
		}
	}
	return math.Max(rate, minFeeRate)
}

// RawTransaction fetches and decodes a transaction.
func (c *Client) RawTransaction(ctx context.Context, txid string) (*wire.MsgTx, error) {
	const op = "bitcoin.raw_transaction"

	body, err := c.get(ctx, op, "/tx/"+txid+"/hex")
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindRPC, op, err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, walleterr.Wrap(walleterr.KindRPC, op, err)
	}
	return tx, nil
}

// Broadcast submits a hex encoded transaction and returns its txid.
func (c *Client) Broadcast(ctx context.Context, rawHex string) (string, error) {
	body, err := c.do(ctx, "bitcoin.broadcast", http.MethodPost, "/tx", rawHex)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	return c.do(ctx, op, http.MethodGet, path, "")
}

func (c *Client) do(ctx context.Context, op, method, path, body string) ([]byte, error) {
	return chain.Retry(ctx, c.retry, op, chain.DefaultTransient, func(ctx context.Context) ([]byte, error) {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.KindInvalidRequest, op, err)
		}
		if body != "" {
			req.Header.Set("Content-Type", "text/plain")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to call %s", path)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, errors.Wrap(err, "failed to read response")
		}

		if resp.StatusCode != http.StatusOK {
			return nil, &chain.HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}

		return data, nil
	})
}

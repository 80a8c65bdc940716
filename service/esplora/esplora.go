package esplora

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-resty/resty/v2"
	"github.com/pandodao/btcvault/core"
)

const DefaultURL = "https://blockstream.info/api"

type Config struct {
	URL       string        `valid:"url,required"`
	Timeout   time.Duration `valid:"required"`
	UserAgent string
}

// Client talks to an Esplora HTTP API. It lists unspents, reports fee
// estimates, checks spent state and broadcasts transactions.
type Client struct {
	http *resty.Client
}

func New(cfg Config) *Client {
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		panic(err)
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Client{http: client}
}

var (
	_ core.ChainService = (*Client)(nil)
	_ core.Broadcaster  = (*Client)(nil)
	_ core.FeeSource    = (*Client)(nil)
)

type utxo struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
}

func (c *Client) ListUnspents(ctx context.Context, address string) ([]*core.Unspent, error) {
	var utxos []utxo
	if err := c.getJSON(ctx, "/address/"+address+"/utxo", &utxos); err != nil {
		return nil, err
	}

	if len(utxos) == 0 {
		return nil, nil
	}

	tip, err := c.TipHeight(ctx)
	if err != nil {
		return nil, err
	}

	unspents := make([]*core.Unspent, 0, len(utxos))
	for _, u := range utxos {
		var confirmations int64
		if u.Status.Confirmed {
			confirmations = tip - u.Status.BlockHeight + 1
		}

		unspents = append(unspents, &core.Unspent{
			TxHash:        u.TxID,
			Vout:          u.Vout,
			Address:       address,
			Value:         u.Value,
			Confirmations: confirmations,
		})
	}

	return unspents, nil
}

func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	return strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
}

func (c *Client) IsSpent(ctx context.Context, unspent *core.Unspent) (bool, error) {
	var resp struct {
		Spent bool `json:"spent"`
	}

	path := fmt.Sprintf("/tx/%s/outspend/%d", unspent.TxHash, unspent.Vout)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return false, err
	}

	return resp.Spent, nil
}

// FeeRates converts the sat/vB estimates of the API into sat/kB.
func (c *Client) FeeRates(ctx context.Context) (map[uint32]int64, error) {
	var resp map[string]float64
	if err := c.getJSON(ctx, "/fee-estimates", &resp); err != nil {
		return nil, err
	}

	rates := make(map[uint32]int64, len(resp))
	for k, v := range resp {
		target, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			continue
		}

		rates[uint32(target)] = int64(math.Round(v * 1000))
	}

	return rates, nil
}

func (c *Client) Submit(ctx context.Context, hex string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(hex).
		Post("/tx")
	if err := checkResponse(resp, err); err != nil {
		return "", err
	}

	return strings.TrimSpace(resp.String()), nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("esplora: %s %s: status %d: %s", resp.Request.Method, resp.Request.URL, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	return resp.Body(), nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, v)
}

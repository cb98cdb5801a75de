package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coinwatch/wallet-stream/stream"
)

const defaultBlockCypherURL = "https://api.blockcypher.com/v1"

// BalanceClient queries the BlockCypher address-balance API. The API
// reports amounts in the chain's smallest unit; the client converts to
// native units before handing the value back, so everything downstream
// speaks BTC and ETH rather than satoshi and wei.
type BalanceClient struct {
	baseURL    string
	token      string // optional API token, raises rate limits
	httpClient *http.Client
}

func NewBalanceClient(baseURL, token string) *BalanceClient {
	if baseURL == "" {
		baseURL = defaultBlockCypherURL
	}
	return &BalanceClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// addressBalance is the slice of the BlockCypher response the worker needs.
// Balances are float64 because wei-denominated values overflow int64 for
// wallets above ~9.2 ETH.
type addressBalance struct {
	Balance      float64 `json:"balance"`
	FinalBalance float64 `json:"final_balance"`
}

// WalletBalance fetches the balance for the address and converts it to
// native units. BTC uses the confirmed final balance in satoshi, ETH the
// balance in wei.
func (c *BalanceClient) WalletBalance(ctx context.Context, currency, address string) (float64, error) {
	url := fmt.Sprintf("%s/%s/main/addrs/%s/balance", c.baseURL, currency, address)
	if c.token != "" {
		url += "?token=" + c.token
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build balance request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("balance lookup for %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance lookup for %s returned %s", address, resp.Status)
	}

	var body addressBalance
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode balance response for %s: %w", address, err)
	}

	switch currency {
	case stream.CurrencyBTC:
		return body.FinalBalance / 1e8, nil
	case stream.CurrencyETH:
		return body.Balance / 1e18, nil
	default:
		return 0, fmt.Errorf("unsupported currency %q", currency)
	}
}

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coin-mixer/internal/core/ports"

	"github.com/rs/zerolog"
)

// maxErrorBody bounds how much of a rejected response is kept for logging.
const maxErrorBody = 512

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements ports.LedgerClient against the remote ledger REST API.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	log        zerolog.Logger
}

// NewClient creates a ledger client. baseURL has no trailing slash, e.g.
// http://bitcoinz.gemini.com/iodine-defrost.
func NewClient(baseURL string, httpClient HTTPClient, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}
}

// NewHTTPClient returns a plain net/http client with the given timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// Mint asks the ledger to create coins for address. The ledger decides the amount.
func (c *Client) Mint(ctx context.Context, address string) error {
	form := url.Values{"address": {address}}
	return c.postForm(ctx, "/create", form)
}

// Transfer moves amount between two ledger addresses.
func (c *Client) Transfer(ctx context.Context, from, to, amount string) error {
	form := url.Values{
		"fromAddress": {from},
		"toAddress":   {to},
		"amount":      {amount},
	}
	return c.postForm(ctx, "/api/transactions", form)
}

// AddressInfo returns the balance and history of one address.
func (c *Client) AddressInfo(ctx context.Context, address string) (*ports.LedgerAddressInfo, error) {
	var info ports.LedgerAddressInfo
	if err := c.getJSON(ctx, "/api/addresses/"+url.PathEscape(address), &info); err != nil {
		return nil, err
	}
	if info.Transactions == nil {
		info.Transactions = []ports.LedgerTransaction{}
	}
	return &info, nil
}

// Transactions returns the full remote ledger.
func (c *Client) Transactions(ctx context.Context) ([]ports.LedgerTransaction, error) {
	var txs []ports.LedgerTransaction
	if err := c.getJSON(ctx, "/api/transactions", &txs); err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []ports.LedgerTransaction{}
	}
	return txs, nil
}

// Ping implements ports.HealthChecker by listing the ledger.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Transactions(ctx)
	return err
}

// Name returns the dependency name.
func (c *Client) Name() string {
	return "ledger"
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.log.Warn().
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("ledger rejected request")
		return fmt.Errorf("ledger POST %s: status %d: %w", path, resp.StatusCode, ports.ErrLedgerRejected)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building ledger request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ledger GET %s: status %d: %w", path, resp.StatusCode, ports.ErrLedgerRejected)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding ledger response: %w", err)
	}
	return nil
}

// Package jobsource talks to the remote job source: it fetches the current
// mining job for a ticker and posts discovered solutions back. It also provides
// a local override file that can pin the job for testing or emergencies.
package jobsource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/bardlex/powminer/internal/work"
	"github.com/bardlex/powminer/pkg/circuit"
	"github.com/bardlex/powminer/pkg/errors"
	"github.com/bardlex/powminer/pkg/log"
)

const (
	// DefaultURL is the public pow20 API.
	DefaultURL = "http://api.pow20.io"

	fetchPath  = "/token/search/bsv"
	submitPath = "/mint/save"

	// maxBodySize bounds how much of a response is read.
	maxBodySize = 1 << 20
)

// Source is the job source contract the mining engine depends on.
type Source interface {
	FetchJob(ctx context.Context, ticker string) (*work.Job, error)
	SubmitSolution(ctx context.Context, sol *work.Solution) (status int, body string, err error)
}

// Config holds the HTTP client settings.
type Config struct {
	BaseURL string
	Address string
	Chain   string
	Wallet  string
	Timeout time.Duration
}

// tickerResponse is the job document returned by the fetch endpoint.
type tickerResponse struct {
	Challenge       string `json:"challenge"`
	CurrentLocation string `json:"currentLocation"`
	Difficulty      int    `json:"difficulty"`
	Ticker          string `json:"ticker"`
	ID              string `json:"id"`
}

// submitRequest is the body posted for a solution.
type submitRequest struct {
	BsvContractLocation string `json:"bsvContractLocation"`
	Nonce               string `json:"nonce"`
	TokenID             string `json:"tokenId"`
	WinningHash         string `json:"winningHash"`
}

// Client is the HTTP job source.
type Client struct {
	baseURL string
	address string
	chain   string
	wallet  string

	httpClient *http.Client
	breaker    *circuit.Breaker
	logger     *log.Logger
}

// NewClient creates an HTTP job source client
func NewClient(cfg Config, logger *log.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultURL
	}
	if cfg.Chain == "" {
		cfg.Chain = "BSV"
	}
	if cfg.Wallet == "" {
		cfg.Wallet = "PANDA"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	logger = logger.WithComponent("jobsource")

	breakerCfg := &circuit.Config{
		Name:            "jobsource_fetch",
		MaxFailures:     5,
		SuccessRequired: 1,
		Timeout:         15 * time.Second,
		ResetTimeout:    60 * time.Second,
		OnStateChange: func(name string, from, to circuit.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		address:    cfg.Address,
		chain:      cfg.Chain,
		wallet:     cfg.Wallet,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    circuit.New(breakerCfg),
		logger:     logger,
	}
}

// FetchJob retrieves the current job for ticker.
func (c *Client) FetchJob(ctx context.Context, ticker string) (*work.Job, error) {
	return circuit.ExecuteWithResult(ctx, c.breaker, func() (*work.Job, error) {
		return c.fetchJob(ctx, ticker)
	})
}

func (c *Client) fetchJob(ctx context.Context, ticker string) (*work.Job, error) {
	endpoint := c.baseURL + fetchPath + "?ticker=" + url.QueryEscape(ticker)

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(req, "fetch_job")
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		se := errors.New(errors.ErrorTypeJobSource, "fetch_job", "unexpected status from job source").
			WithContext("status", status).
			WithContext("ticker", ticker).
			WithContext("body", truncate(body, 256))
		se.Retryable = status >= 500 || status == http.StatusTooManyRequests
		return nil, se
	}

	var resp tickerResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeJobSource, "fetch_job", "failed to decode job").
			WithContext("ticker", ticker)
	}

	if resp.Challenge == "" && resp.ID == "" {
		return nil, errors.New(errors.ErrorTypeJobSource, "fetch_job", "job source returned an empty job").
			WithContext("ticker", ticker)
	}

	return work.DecodeJob(resp.Challenge, resp.Difficulty, resp.CurrentLocation, resp.ID, resp.Ticker)
}

// SubmitSolution posts sol and returns the raw status code and body. A
// non-nil error means no answer was received.
func (c *Client) SubmitSolution(ctx context.Context, sol *work.Solution) (int, string, error) {
	payload, err := sonic.Marshal(submitRequest{
		BsvContractLocation: sol.Location,
		Nonce:               sol.NonceHex(),
		TokenID:             sol.TokenID,
		WinningHash:         sol.HashHex(),
	})
	if err != nil {
		return 0, "", errors.Wrap(err, errors.ErrorTypeInternal, "submit_solution", "failed to encode solution")
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+submitPath, payload)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req, "submit_solution")
	if err != nil {
		return 0, "", err
	}
	return status, string(body), nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "new_request", "invalid job source URL").
			WithContext("url", endpoint)
	}

	req.Header.Set("Address", c.address)
	req.Header.Set("Chain", c.chain)
	req.Header.Set("Wallet", c.wallet)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, operation string) (int, []byte, error) {
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, errors.ErrorTypeNetwork, operation, "request to job source failed").
			WithContext("url", req.URL.String())
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close response body", "error", cerr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, errors.Wrap(err, errors.ErrorTypeNetwork, operation, "failed to read job source response").
			WithContext("status", resp.StatusCode)
	}

	c.logger.LogDuration(operation, time.Since(start).Nanoseconds())
	return resp.StatusCode, body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...(%d bytes)", b[:n], len(b))
}

// Package tonapi is the rate-limited client for the TON chain-event API. All
// calls carry the bearer credential and share one process-wide request-per-
// second budget.
package tonapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tonscope/lambo-indexer/pkg/models"
)

// PageLimit is the fixed page size for account transaction history.
const PageLimit = 1000

const requestTimeout = 30 * time.Second

// UpstreamError is a non-2xx response from the chain-event API. 429 is
// handled inside the client and never surfaces as an UpstreamError unless the
// retry also fails.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the chain-event API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	stream  *http.Client // no timeout: SSE connections are long-lived
	limiter *rate.Limiter
	backoff time.Duration // 429 backoff, 2·(1/R)
}

// NewClient builds a client with a process-wide limit of rps requests/second.
func NewClient(baseURL, apiKey string, rps float64) *Client {
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
		stream:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		backoff: time.Duration(2 * float64(time.Second) / rps),
	}
}

// ListPoolTransactions fetches one newest-first page of an account's
// transaction history. beforeLT = 0 requests the newest page.
func (c *Client) ListPoolTransactions(ctx context.Context, account string, beforeLT uint64) ([]models.AccountTx, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(PageLimit))
	if beforeLT > 0 {
		q.Set("before_lt", strconv.FormatUint(beforeLT, 10))
	}
	endpoint := fmt.Sprintf("%s/v2/blockchain/accounts/%s/transactions?%s",
		c.baseURL, url.PathEscape(account), q.Encode())

	var page models.TxPage
	if err := c.getJSON(ctx, endpoint, &page); err != nil {
		return nil, err
	}
	return page.Transactions, nil
}

// GetEvent fetches the event tree for one transaction hash.
func (c *Client) GetEvent(ctx context.Context, txHash string) (*models.Event, error) {
	endpoint := fmt.Sprintf("%s/v2/events/%s", c.baseURL, url.PathEscape(txHash))
	var event models.Event
	if err := c.getJSON(ctx, endpoint, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// GetPriceChart fetches (timestamp, price) pairs for token/currency over
// [start, end] with the requested number of sample points.
func (c *Client) GetPriceChart(ctx context.Context, token, currency string, start, end int64, points int) (*models.ChartResponse, error) {
	q := url.Values{}
	q.Set("token", token)
	q.Set("currency", currency)
	q.Set("start_date", strconv.FormatInt(start, 10))
	q.Set("end_date", strconv.FormatInt(end, 10))
	q.Set("points_count", strconv.Itoa(points))
	endpoint := fmt.Sprintf("%s/v2/rates/chart?%s", c.baseURL, q.Encode())

	var chart models.ChartResponse
	if err := c.getJSON(ctx, endpoint, &chart); err != nil {
		return nil, err
	}
	return &chart, nil
}

// getJSON performs a rate-limited GET and decodes the JSON response. A 429
// sleeps 2·(1/R) and retries once before giving up.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			log.Printf("[TonAPI] 429 from upstream, backing off %s", c.backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return json.Unmarshal(body, out)
	}
}

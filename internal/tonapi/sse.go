package tonapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonscope/lambo-indexer/pkg/models"
)

// StreamTransactions opens the server-sent-event stream of transactions for
// one account and invokes handler for every decoded data line. connected, if
// non-nil, fires once after the 200 handshake. The call blocks until the
// stream breaks or ctx is cancelled; reconnect policy belongs to the caller.
// A non-200 handshake is returned as an UpstreamError.
func (c *Client) StreamTransactions(ctx context.Context, account string, connected func(), handler func(models.StreamEvent) error) error {
	endpoint := fmt.Sprintf("%s/v2/sse/accounts/transactions?accounts=%s",
		c.baseURL, url.QueryEscape(account))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{StatusCode: resp.StatusCode, Body: resp.Status}
	}
	if connected != nil {
		connected()
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue // comments, event names, keepalives
		}
		payload := line[len("data: "):]
		if strings.TrimSpace(payload) == "" || payload == "heartbeat" {
			continue
		}

		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			log.Printf("[TonAPI] Failed to parse SSE data: %v", err)
			continue
		}
		if err := handler(ev); err != nil {
			log.Printf("[TonAPI] Error processing SSE event: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream closed by upstream")
}

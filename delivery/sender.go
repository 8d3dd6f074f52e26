package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// signatureHeader carries the HMAC of the body, "sha256=<hex>".
const signatureHeader = "X-Hub-Signature"

const defaultSendTimeout = 10 * time.Second

// HTTPSender returns a SendFunc posting envelopes to url. A nil client gets
// a default with a request timeout. Any non-2xx status is a failed attempt.
func HTTPSender(url string, client *http.Client) SendFunc {
	if client == nil {
		client = &http.Client{Timeout: defaultSendTimeout}
	}
	return func(ctx context.Context, eventType string, body []byte, signature string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(signatureHeader, "sha256="+signature)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("post webhook: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("webhook returned %d for %s", resp.StatusCode, eventType)
		}
		return nil
	}
}

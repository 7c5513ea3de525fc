package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// probeSize asks the server for the content length with a HEAD request.
// A zero size with a nil error means the server did not report one.
func probeSize(ctx context.Context, client Doer, url string, timeout time.Duration) (uint64, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("error creating HEAD request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("error executing HEAD request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("HEAD request returned status %d", resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, nil
	}
	return uint64(resp.ContentLength), nil
}

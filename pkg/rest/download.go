package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Download streams the body of a GET to w without buffering the whole
// file. It returns the Content-Type reported by the service.
func (c *Client) Download(ctx context.Context, path string, w io.Writer, opts ...RequestOption) (string, error) {
	resp, err := c.Do(ctx, path, nil, opts...)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := CheckStatus(resp, path); err != nil {
		return "", err
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("rest: download %s: %w", path, err)
	}
	return resp.Header.Get("Content-Type"), nil
}

// Upload sends raw bytes with the given method (POST for create, PUT
// for replace).
func (c *Client) Upload(ctx context.Context, method, path string, data []byte, opts ...RequestOption) error {
	opts = append(opts, WithMethod(method), WithRawBody(data, "application/octet-stream"))
	resp, err := c.Do(ctx, path, nil, opts...)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return CheckStatus(resp, path)
}

// Exists probes a path with HEAD. A 404 is reported as (false, nil);
// other non-2xx statuses are errors.
func (c *Client) Exists(ctx context.Context, path string, opts ...RequestOption) (bool, error) {
	opts = append(opts, WithMethod(http.MethodHead))
	resp, err := c.Do(ctx, path, nil, opts...)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := CheckStatus(resp, path); err != nil {
		return false, err
	}
	return true, nil
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// apiClient talks to modelrunnerd's admin HTTP surface, either over a unix
// socket (the default) or a TCP address set via --addr/BACKENDPOOL_ADDR.
type apiClient struct {
	http      *http.Client
	urlPrefix string
}

func newAPIClient(sockPath, addr string) *apiClient {
	if addr != "" {
		return &apiClient{http: http.DefaultClient, urlPrefix: "http://" + addr}
	}
	dialer := net.Dialer{Timeout: 5 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", sockPath)
		},
	}
	return &apiClient{
		http:      &http.Client{Transport: transport},
		urlPrefix: "http://unix",
	}
}

func (c *apiClient) url(path string) string {
	u, err := url.Parse(c.urlPrefix)
	if err != nil {
		panic("error occurred while parsing known-good URL")
	}
	return u.JoinPath(path).String()
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("unable to encode request: %w", err)
		}
		reader = strings.NewReader(string(encoded))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("unable to construct request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("unable to reach modelrunnerd (is it running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("modelrunnerd returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func defaultSockPath() string {
	if v := os.Getenv("BACKENDPOOL_SOCK"); v != "" {
		return v
	}
	return "backendpool.sock"
}

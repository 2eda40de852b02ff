package retrieve

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"time"
)

// Transport fetches raw bytes from one endpoint with one query. All
// download mechanisms sit behind this single signature.
type Transport interface {
	Fetch(ctx context.Context, endpoint, query string) ([]byte, error)

	// Name identifies the mechanism in metrics and cache metadata.
	Name() string
}

// fetchTimeout is generous because geodata queries over large boxes can
// take minutes server-side.
const fetchTimeout = 6 * time.Minute

// HTTPTransport downloads with the native HTTP client.
type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport() *HTTPTransport {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &HTTPTransport{
		client: &http.Client{
			Transport: transport,
			Timeout:   fetchTimeout,
		},
	}
}

func (t *HTTPTransport) Name() string { return "native" }

func (t *HTTPTransport) Fetch(ctx context.Context, endpoint, query string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	q := url.Values{}
	q.Set("data", query)
	req.URL.RawQuery = q.Encode()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http fetch: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("http fetch: empty response from %s", endpoint)
	}
	return body, nil
}

// ExecTransport delegates to an external download tool. Supported tools
// are "curl" and "wget"; anything else fails at construction.
type ExecTransport struct {
	tool string
}

func NewExecTransport(tool string) (*ExecTransport, error) {
	switch tool {
	case "curl", "wget":
		return &ExecTransport{tool: tool}, nil
	default:
		return nil, fmt.Errorf("unsupported download tool %q", tool)
	}
}

func (t *ExecTransport) Name() string { return t.tool }

func (t *ExecTransport) Fetch(ctx context.Context, endpoint, query string) ([]byte, error) {
	full := endpoint + "?data=" + url.QueryEscape(query)

	var cmd *exec.Cmd
	switch t.tool {
	case "curl":
		cmd = exec.CommandContext(ctx, "curl", "-s", full)
	case "wget":
		cmd = exec.CommandContext(ctx, "wget", "-qO-", full)
	}

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s fetch: %w", t.tool, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s fetch: empty output", t.tool)
	}
	return out, nil
}

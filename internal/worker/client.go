package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/geoforge/chunkplane/internal/protocol"
)

// Client speaks the coordinator protocol over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Register(ctx context.Context, req protocol.RegisterWorkerRequest) (protocol.RegisterWorkerResponse, error) {
	var resp protocol.RegisterWorkerResponse
	err := c.post(ctx, "/api/register", req, &resp)
	return resp, err
}

func (c *Client) RequestWork(ctx context.Context, workerID string) (protocol.WorkResponse, error) {
	var resp protocol.WorkResponse
	err := c.post(ctx, "/api/request-work", protocol.WorkRequest{WorkerID: workerID}, &resp)
	return resp, err
}

func (c *Client) SubmitResult(ctx context.Context, req protocol.SubmitResultRequest) (protocol.SubmitResultResponse, error) {
	var resp protocol.SubmitResultResponse
	err := c.post(ctx, "/api/submit-result", req, &resp)
	return resp, err
}

func (c *Client) Status(ctx context.Context) (protocol.StatusResponse, error) {
	var resp protocol.StatusResponse
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return resp, err
	}
	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return resp, fmt.Errorf("status: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()
	if httpResp.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("status: coordinator returned %d", httpResp.StatusCode)
	}
	return resp, protocol.Decode(httpResp.Body, &resp)
}

func (c *Client) post(ctx context.Context, path string, body, dst any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return fmt.Errorf("%s: coordinator returned %d: %s", path, httpResp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return protocol.Decode(httpResp.Body, dst)
}

package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResultBytes = 1 << 20

// Request is the body posted to a tool's upstream.
type Request struct {
	ToolName string          `json:"tool_name"`
	Args     json.RawMessage `json:"args"`
	AgentID  string          `json:"agent_id,omitempty"`
	ChatID   string          `json:"chat_id,omitempty"`
}

// Forwarder executes tool calls by posting them to the tool's HTTP upstream.
type Forwarder struct {
	client *http.Client
}

func NewForwarder(timeout time.Duration) *Forwarder {
	return &Forwarder{
		client: &http.Client{Timeout: timeout},
	}
}

func (f *Forwarder) Forward(ctx context.Context, upstream string, req Request) (json.RawMessage, error) {
	if upstream == "" {
		return nil, fmt.Errorf("tool %s has no upstream", req.ToolName)
	}

	payload, err := f.buildPayload(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := f.buildRequest(ctx, upstream, payload)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	return f.readResponse(resp.Body)
}

func (f *Forwarder) buildPayload(req Request) ([]byte, error) {
	if len(req.Args) == 0 {
		req.Args = json.RawMessage(`{}`)
	}
	if !json.Valid(req.Args) {
		return nil, fmt.Errorf("arguments for %s are not valid JSON", req.ToolName)
	}

	return json.Marshal(req)
}

func (f *Forwarder) buildRequest(ctx context.Context, upstream string, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upstream, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (f *Forwarder) readResponse(body io.Reader) (json.RawMessage, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxResultBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return json.RawMessage(data), nil
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dagbolade/trust-proxy/internal/chat"
	"github.com/dagbolade/trust-proxy/internal/stream"
)

// ErrTypeUpstream is the error type reported when the provider gave none.
const ErrTypeUpstream = "upstream_error"

// UpstreamError carries the provider's status and error type so callers can
// mirror them to their own clients.
type UpstreamError struct {
	Status  int
	Type    string
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.Status, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Complete runs a non-streaming completion.
func Complete(ctx context.Context, c Client, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, chat.Completion, error) {
	req.Stream = false
	req.StreamOptions = nil

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return openai.ChatCompletionResponse{}, chat.Completion{}, wrapError(err)
	}

	completion, err := chat.FromResponse(resp)
	if err != nil {
		return openai.ChatCompletionResponse{}, chat.Completion{}, &UpstreamError{
			Status:  http.StatusBadGateway,
			Type:    ErrTypeUpstream,
			Message: err.Error(),
			Err:     err,
		}
	}
	return resp, completion, nil
}

// Stream runs a streaming completion and buffers it fully. Nothing is
// forwarded until the caller writes the returned Final.
func Stream(ctx context.Context, c Client, req openai.ChatCompletionRequest) (*stream.Final, error) {
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	s, err := c.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapError(err)
	}
	defer s.Close()

	acc := stream.NewAccumulator()
	if err := acc.Consume(ctx, s); err != nil {
		return nil, wrapError(err)
	}
	return acc.Finalize(), nil
}

func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.HTTPStatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		typ := apiErr.Type
		if typ == "" {
			typ = ErrTypeUpstream
		}
		return &UpstreamError{Status: status, Type: typ, Message: apiErr.Message, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		status := reqErr.HTTPStatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return &UpstreamError{Status: status, Type: ErrTypeUpstream, Message: reqErr.Error(), Err: err}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &UpstreamError{
		Status:  http.StatusInternalServerError,
		Type:    ErrTypeUpstream,
		Message: err.Error(),
		Err:     err,
	}
}

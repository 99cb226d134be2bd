// Package llmtest provides a scripted OpenAI-compatible upstream for tests.
package llmtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// Reply is one scripted upstream answer. A non-zero Status produces an error
// body instead of a completion.
type Reply struct {
	Text      string
	ToolCalls []openai.ToolCall
	Usage     openai.Usage
	Status    int
	ErrType   string
	ErrMsg    string
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	replies  []Reply
	requests []openai.ChatCompletionRequest
	keys     []string
}

// NewServer serves the replies in order, repeating the last one.
func NewServer(replies ...Reply) *Server {
	s := &Server{replies: replies}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// BaseURL is the value to configure as the provider base URL.
func (s *Server) BaseURL() string {
	return s.URL + "/v1"
}

func (s *Server) Requests() []openai.ChatCompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), s.requests...)
}

// APIKeys lists the bearer tokens seen, in request order.
func (s *Server) APIKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func (s *Server) next(req openai.ChatCompletionRequest, auth string) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	s.keys = append(s.keys, auth)

	if len(s.replies) == 0 {
		return Reply{Text: "ok"}
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return r
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	auth := r.Header.Get("Authorization")
	if len(auth) > len("Bearer ") {
		auth = auth[len("Bearer "):]
	}
	reply := s.next(req, auth)

	if reply.Status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(reply.Status)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": reply.ErrMsg, "type": reply.ErrType},
		})
		return
	}

	if req.Stream {
		writeStream(w, req, reply)
		return
	}

	finish := openai.FinishReasonStop
	if len(reply.ToolCalls) > 0 {
		finish = openai.FinishReasonToolCalls
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		ID:      "chatcmpl-test",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   reply.Text,
				ToolCalls: reply.ToolCalls,
			},
			FinishReason: finish,
		}},
		Usage: reply.Usage,
	})
}

// writeStream splits the reply into realistic fragments: text in two
// deltas and every tool call's arguments in two deltas keyed by index.
func writeStream(w http.ResponseWriter, req openai.ChatCompletionRequest, reply Reply) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)

	send := func(chunk openai.ChatCompletionStreamResponse) {
		chunk.ID = "chatcmpl-test"
		chunk.Object = "chat.completion.chunk"
		chunk.Created = 1700000000
		chunk.Model = req.Model
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	choice := func(d openai.ChatCompletionStreamChoiceDelta, finish openai.FinishReason) openai.ChatCompletionStreamResponse {
		return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{{Index: 0, Delta: d, FinishReason: finish}}}
	}

	half := len(reply.Text) / 2
	send(choice(openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant, Content: reply.Text[:half]}, ""))
	if rest := reply.Text[half:]; rest != "" {
		send(choice(openai.ChatCompletionStreamChoiceDelta{Content: rest}, ""))
	}

	for i, tc := range reply.ToolCalls {
		idx := i
		args := tc.Function.Arguments
		cut := len(args) / 2
		send(choice(openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{{
			Index: &idx, ID: tc.ID, Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: tc.Function.Name, Arguments: args[:cut]},
		}}}, ""))
		send(choice(openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{{
			Index: &idx, Function: openai.FunctionCall{Arguments: args[cut:]},
		}}}, ""))
	}

	finish := openai.FinishReasonStop
	if len(reply.ToolCalls) > 0 {
		finish = openai.FinishReasonToolCalls
	}
	send(choice(openai.ChatCompletionStreamChoiceDelta{}, finish))

	if req.StreamOptions != nil && req.StreamOptions.IncludeUsage {
		usage := reply.Usage
		send(openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{}, Usage: &usage})
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

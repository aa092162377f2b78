package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeOpenAI(t *testing.T, h http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewOpenAIClient("sk-test", srv.URL+"/v1")
	require.NoError(t, err)
	return c
}

func writeChunks(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, d := range deltas {
		payload, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion.chunk",
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": d}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestOpenAI_CompleteStream(t *testing.T) {
	var body map[string]any
	c := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeChunks(w, "Hel", "lo", "!")
	})

	var tokens []string
	resp, err := c.CompleteStream(context.Background(), &CompletionRequest{
		System:   "be brief",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(token string, index int) error {
		require.Equal(t, len(tokens), index)
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Hel", "lo", "!"}, tokens)
	require.Equal(t, "Hello!", resp.Content)
	require.Equal(t, defaultOpenAIModel, resp.Model)
	require.Positive(t, resp.TokensOut)

	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	require.Equal(t, "system", messages[0].(map[string]any)["role"])
	require.Equal(t, true, body["stream"])
}

func TestOpenAI_CallbackErrorStopsStream(t *testing.T) {
	c := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, "a", "b")
	})

	stop := fmt.Errorf("client gone")
	_, err := c.CompleteStream(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(string, int) error { return stop })
	require.ErrorIs(t, err, stop)
}

func TestOpenAI_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		rateLimit bool
		quota     bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`, true, false},
		{"insufficient quota", http.StatusTooManyRequests, `{"error":{"message":"out of credits","type":"insufficient_quota","code":"insufficient_quota"}}`, false, true},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.CompleteStream(context.Background(), &CompletionRequest{
				Messages: []ChatMessage{{Role: "user", Content: "hi"}},
			}, func(string, int) error { return nil })

			apiErr, ok := AsAPIError(err)
			require.True(t, ok, "got %v", err)
			require.Equal(t, tt.status, apiErr.Status)
			require.Equal(t, tt.rateLimit, apiErr.RateLimited())
			require.Equal(t, tt.quota, apiErr.QuotaExceeded())
		})
	}
}

func TestOpenAI_VisionUsesMultiContent(t *testing.T) {
	var body struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	c := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeChunks(w, "a cat")
	})

	_, err := c.CompleteStream(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: "what is this?", Images: []string{"data:image/png;base64,AAAA"}},
		},
	}, func(string, int) error { return nil })
	require.NoError(t, err)

	var parts []map[string]any
	require.NoError(t, json.Unmarshal(body.Messages[0].Content, &parts))
	require.Len(t, parts, 2)
	require.Equal(t, "text", parts[0]["type"])
	require.Equal(t, "image_url", parts[1]["type"])
	require.Equal(t, "data:image/png;base64,AAAA", parts[1]["image_url"].(map[string]any)["url"])
}

func TestOpenAI_GenerateImage(t *testing.T) {
	c := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/images/generations", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "a red fox", req["prompt"])
		_, _ = io.WriteString(w, `{"created":1,"data":[{"url":"https://img.example/fox.png","revised_prompt":"a red fox in snow"}]}`)
	})

	img, err := c.GenerateImage(context.Background(), "a red fox")
	require.NoError(t, err)
	require.Equal(t, "https://img.example/fox.png", img.URL)
	require.Equal(t, "a red fox in snow", img.RevisedPrompt)
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(ProviderOpenAI, "sk", "")
	require.NoError(t, err)
	require.Equal(t, "openai", c.Name())

	c, err = NewClient(ProviderAnthropic, "sk", "")
	require.NoError(t, err)
	require.Equal(t, "anthropic", c.Name())

	_, err = NewClient("mystery", "sk", "")
	require.Error(t, err)

	_, err = NewClient(ProviderOpenAI, "", "")
	require.Error(t, err)
}

func TestCountTokens(t *testing.T) {
	require.Zero(t, CountTokens(""))
	require.Positive(t, CountTokens("hello world"))
	require.Equal(t, CountTokens("a")+CountTokens("b"), CountMessageTokens("a", []ChatMessage{{Content: "b"}}))
}

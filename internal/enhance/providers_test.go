package enhance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Providers(t *testing.T) {
	svc, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, svc.Available())

	_, err = New(Config{Provider: "anthropic"})
	assert.Error(t, err, "api key required")

	_, err = New(Config{Provider: "llama"})
	assert.Error(t, err)
}

func TestAnthropic_Classify(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"m","content":[{"type":"text","text":"PROCESS"}]}`))
	}))
	defer srv.Close()

	svc, err := New(Config{Provider: "anthropic", APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	res, err := svc.Classify(context.Background(), Prompt{
		System:  "decide",
		Content: "deploy with password=hunter22 tonight",
	})
	require.NoError(t, err)
	assert.Equal(t, "PROCESS", res.Text)
	assert.Equal(t, "decide", got.System)
	assert.NotContains(t, got.Messages[0].Content, "hunter22")
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"model":"m","choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	svc, err := New(Config{Provider: "openai", APIKey: "k", BaseURL: srv.URL, MaxRetries: 2})
	require.NoError(t, err)
	res, err := svc.Classify(context.Background(), Prompt{Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, res.Text)
	assert.Equal(t, int32(2), hits.Load())
}

func TestOpenAI_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	svc, err := New(Config{Provider: "openai", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = svc.Classify(context.Background(), Prompt{Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, int32(1), hits.Load())
}

func TestScrubSecrets(t *testing.T) {
	in := "key sk-ant-REDACTED and card 4111 1111 1111 1111"
	out := scrubSecrets(in)
	assert.NotContains(t, out, "abcdefghijklmnop")
	assert.NotContains(t, out, "4111 1111")
	assert.Contains(t, out, "[REDACTED:anthropic-api-key]")
}

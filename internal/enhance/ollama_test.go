package enhance

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Ollama(t *testing.T) {
	svc, err := New(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.True(t, svc.Available(), "no key needed for a local model")
	assert.Equal(t, defaultOllamaModel, svc.(*ollamaProvider).model)
}

func TestOllama_Unreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	svc, err := New(Config{Provider: "ollama", BaseURL: url, Model: "tiny", Timeout: time.Second})
	require.NoError(t, err)
	_, err = svc.Classify(context.Background(), Prompt{Task: TaskAdmission, System: "s", Content: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

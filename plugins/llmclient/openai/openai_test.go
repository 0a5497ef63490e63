package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumptree/internal/diag"
	"dumptree/pkg/contract"
)

func TestNewMissingKey(t *testing.T) {
	t.Setenv("DUMPTREE_TEST_NO_KEY", "")
	_, err := New(json.RawMessage(`{"api_key_env":"DUMPTREE_TEST_NO_KEY"}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestNewKeyFromEnv(t *testing.T) {
	t.Setenv("DUMPTREE_TEST_KEY", "sk-test")
	c, err := New(json.RawMessage(`{"api_key_env":"DUMPTREE_TEST_KEY","base_url":"http://x/v1/"}`))
	require.NoError(t, err)
	cl := c.(*Client)
	assert.Equal(t, "sk-test", cl.apiKey)
	assert.Equal(t, "http://x/v1", cl.base)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "nope", http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/v1/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4.1-mini"},{"id":"gpt-4o"}]}`))
	}))
	defer srv.Close()

	c, err := New(json.RawMessage(`{"api_key":"sk-test","base_url":"` + srv.URL + `/v1"}`))
	require.NoError(t, err)
	models, err := c.(contract.Pinger).Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4.1-mini", "gpt-4o"}, models)

	c, err = New(json.RawMessage(`{"api_key":"wrong","base_url":"` + srv.URL + `/v1"}`))
	require.NoError(t, err)
	_, err = c.(contract.Pinger).Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, diag.CodeProtocol, diag.Classify(err))
}

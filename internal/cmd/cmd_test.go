package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisboulton/fluxer-go"
	"github.com/chrisboulton/fluxer-go/gateway"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var out bytes.Buffer
	root := NewRootCmd("test")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func fakeAPI(t *testing.T) string {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/v1/gateway/bot", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot from-env", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(gateway.BotInfo{
			URL:    "wss://gw.test",
			Shards: 4,
			SessionStartLimit: gateway.SessionStartLimit{
				Total: 1000, Remaining: 998, ResetAfter: 60000, MaxConcurrency: 2,
			},
		})
	})
	r.Post("/v1/channels/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bot-from-file", strings.TrimPrefix(r.Header.Get("Authorization"), "Bot "))
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		w.Header().Set("X-RateLimit-Limit", "5")
		w.Header().Set("X-RateLimit-Remaining", "4")
		w.Header().Set("X-RateLimit-Reset-After", "2")
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "1", "content": body["content"]})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestShardFor(t *testing.T) {
	out, err := run(t, "shard-for", "--shards", "2", "20971520", "16777216")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "shard 1/2")
	assert.Contains(t, lines[1], "shard 0/2")
	assert.Contains(t, lines[0], "2015-01-01T00:00:00Z")
}

func TestShardFor_InvalidID(t *testing.T) {
	_, err := run(t, "shard-for", "not-a-number")
	assert.Error(t, err)
}

func TestBucket(t *testing.T) {
	out, err := run(t, "bucket", "get", "/channels/123/messages", "/users/@me")
	require.NoError(t, err)
	assert.Contains(t, out, "GET:channels:123")
	assert.Contains(t, out, "GET:/users/@me")
}

func TestGatewayInfo(t *testing.T) {
	base := fakeAPI(t)
	t.Setenv("FLUXER_TOKEN", "from-env")

	out, err := run(t, "gateway-info", "--api-url", base)
	require.NoError(t, err)
	assert.Contains(t, out, "wss://gw.test")
	assert.Contains(t, out, "998 / 1000")
	assert.Contains(t, out, "1m0s")
}

func TestRequest_ConfigFile(t *testing.T) {
	base := fakeAPI(t)
	cfg := filepath.Join(t.TempDir(), "fluxer.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("token: bot-from-file\napi_url: "+base+"\n"), 0o600))

	out, err := run(t, "--config", cfg, "request", "post", "/channels/7/messages",
		"-d", `{"content":"hello"}`, "-q", "wait=true", "--buckets")
	require.NoError(t, err)
	assert.Contains(t, out, `"content": "hello"`)
	assert.Contains(t, out, "POST:channels:7")
}

func TestRequest_MissingToken(t *testing.T) {
	t.Setenv("FLUXER_TOKEN", "")
	_, err := run(t, "request", "get", "/users/@me")
	if !errors.Is(err, fluxer.ErrMissingToken) {
		t.Errorf("error = %v, want ErrMissingToken", err)
	}
}

func TestRequest_InvalidData(t *testing.T) {
	_, err := run(t, "request", "post", "/x", "-d", "{nope")
	assert.Error(t, err)
}

func TestEventPrinter(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	p := &eventPrinter{w: &buf, only: upperSet([]string{"message_create"})}

	p.print(&gateway.DispatchEvent{ShardID: 1, Name: "MESSAGE_CREATE", Sequence: 3})
	p.print(&gateway.DispatchEvent{ShardID: 1, Name: "TYPING_START", Sequence: 4})
	p.print(&gateway.DisconnectEvent{ShardID: 2, Code: 4004, Fatal: true})

	out := buf.String()
	assert.Contains(t, out, "[shard 1] MESSAGE_CREATE seq=3")
	assert.NotContains(t, out, "TYPING_START")
	assert.Contains(t, out, "[shard 2] disconnected code=4004 (fatal)")
}

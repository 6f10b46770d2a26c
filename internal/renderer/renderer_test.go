package renderer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolbyKate/cooptme/internal/channel"
	"github.com/HolbyKate/cooptme/internal/scanner"
	"github.com/HolbyKate/cooptme/internal/script"
	"github.com/HolbyKate/cooptme/internal/storage"
	"github.com/HolbyKate/cooptme/pkg/plugin"
)

const profilePage = `<html><head>
<title>Jane Doe - Engineer - Acme | LinkedIn</title>
</head><body><main>
<h1>Jane Doe</h1>
<div class="text-body-medium">Engineer</div>
</main></body></html>`

func newProfileServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/in/janedoe", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(profilePage))
	})
	mux.HandleFunc("/authwall", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<form class="login__form"></form>`))
	})
	mux.HandleFunc("/in/private", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/authwall", http.StatusFound)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body></body></html>`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newStatic(t *testing.T, cfg StaticConfig) *StaticRenderer {
	t.Helper()
	r, err := NewStaticRenderer(cfg)
	require.NoError(t, err)
	return r
}

func receive(t *testing.T, page plugin.Page) string {
	t.Helper()
	select {
	case msg := <-page.Messages():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message from page")
		return ""
	}
}

func TestStaticRenderer_ExtractOnLoad(t *testing.T) {
	server := newProfileServer(t)
	r := newStatic(t, StaticConfig{Timeout: 5 * time.Second})

	page, err := r.Open(context.Background(), server.URL+"/in/janedoe", script.ExtractProfile())
	require.NoError(t, err)
	defer page.Close()

	out := channel.Classify(receive(t, page), page.Location())
	require.Equal(t, channel.KindData, out.Kind)
	assert.Equal(t, "Jane Doe", out.Raw.FullName)
	assert.Equal(t, "Engineer", out.Raw.Title)
	assert.Equal(t, "Acme", out.Raw.Company)
	assert.Equal(t, server.URL+"/in/janedoe", out.Raw.ProfileURL)
}

func TestStaticRenderer_PageState(t *testing.T) {
	server := newProfileServer(t)
	r := newStatic(t, StaticConfig{})

	page, err := r.Open(context.Background(), server.URL+"/in/janedoe", script.PageState())
	require.NoError(t, err)
	out := channel.Classify(receive(t, page), page.Location())
	assert.Equal(t, channel.KindPageState, out.Kind)
	assert.True(t, out.LoggedIn)

	private, err := r.Open(context.Background(), server.URL+"/in/private", script.PageState())
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/authwall", private.Location())
	out = channel.Classify(receive(t, private), private.Location())
	assert.Equal(t, channel.KindError, out.Kind)
	assert.Equal(t, plugin.ReasonElementsNotFound, out.Reason)
	assert.Equal(t, loginWallError, out.Detail)
}

func TestStaticRenderer_LoginWallEndsScan(t *testing.T) {
	server := newProfileServer(t)
	r := newStatic(t, StaticConfig{})

	cfg := scanner.DefaultConfig()
	cfg.Timeout = 10 * time.Second
	gw := storage.NewMemoryGateway()
	s := scanner.New(cfg, r, gw, nil)
	defer s.Close()

	start := time.Now()
	out := s.Scan(context.Background(), server.URL+"/authwall", scanner.Options{})

	assert.Equal(t, scanner.StatusFailure, out.Status)
	assert.Equal(t, plugin.ReasonElementsNotFound, out.Reason)
	assert.False(t, out.Reason.Retryable())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, gw.Size())
}

func TestStaticRenderer_DefaultConfigStoresProfile(t *testing.T) {
	server := newProfileServer(t)
	gw := storage.NewMemoryGateway()
	s := scanner.New(scanner.DefaultConfig(), newStatic(t, StaticConfig{}), gw, nil)
	defer s.Close()

	out := s.Scan(context.Background(), server.URL+"/in/janedoe", scanner.Options{})
	require.True(t, out.Succeeded(), "reason %s: %v", out.Reason, out.Err)
	assert.Equal(t, "Jane", out.Profile.FirstName)
	assert.Equal(t, 1, gw.Size())
}

func TestStaticRenderer_CustomHeaders(t *testing.T) {
	seen := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Write([]byte(profilePage))
	}))
	defer server.Close()

	r := newStatic(t, StaticConfig{
		UserAgent:     "cooptme-test",
		CustomHeaders: []string{"X-Client: mobile", "Accept-Language: fr-FR"},
	})
	page, err := r.Open(context.Background(), server.URL, plugin.Script{})
	require.NoError(t, err)
	defer page.Close()

	h := <-seen
	assert.Equal(t, "mobile", h.Get("X-Client"))
	assert.Equal(t, "fr-FR", h.Get("Accept-Language"))
	assert.Equal(t, "cooptme-test", h.Get("User-Agent"))
}

func TestNewStaticRenderer_InvalidConfig(t *testing.T) {
	_, err := NewStaticRenderer(StaticConfig{CustomHeaders: []string{"no separator"}})
	assert.Error(t, err)

	_, err = NewStaticRenderer(StaticConfig{Proxy: "://bad"})
	assert.Error(t, err)
}

func TestStaticRenderer_ExtractionError(t *testing.T) {
	server := newProfileServer(t)
	r := newStatic(t, StaticConfig{})

	page, err := r.Open(context.Background(), server.URL+"/empty", plugin.Script{})
	require.NoError(t, err)
	require.NoError(t, page.Inject(context.Background(), script.ExtractProfile()))

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(receive(t, page)), &msg))
	assert.Equal(t, script.TypeExtractionError, msg["type"])
}

func TestStaticRenderer_Errors(t *testing.T) {
	server := newProfileServer(t)
	r := newStatic(t, StaticConfig{})

	_, err := r.Open(context.Background(), server.URL+"/missing", script.PageState())
	assert.Error(t, err)

	page, err := r.Open(context.Background(), server.URL+"/in/janedoe", plugin.Script{})
	require.NoError(t, err)
	assert.Error(t, page.Inject(context.Background(), plugin.Script{Name: "scroll"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Open(ctx, server.URL+"/in/janedoe", script.PageState())
	assert.Error(t, err)
}

func TestStaticPage_CloseDropsMessages(t *testing.T) {
	server := newProfileServer(t)
	r := newStatic(t, StaticConfig{})

	page, err := r.Open(context.Background(), server.URL+"/in/janedoe", plugin.Script{})
	require.NoError(t, err)
	require.NoError(t, page.Close())
	require.NoError(t, page.Close())

	require.NoError(t, page.Inject(context.Background(), script.PageState()))
	_, open := <-page.Messages()
	assert.False(t, open)
}

func TestBrowserRenderer_Bridge(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test skipped in short mode")
	}
	bin, found := launcher.LookPath()
	if !found {
		t.Skip("no Chrome binary available")
	}

	server := newProfileServer(t)
	r, err := NewBrowserRenderer(BrowserConfig{Headless: true, Bin: bin, PageTimeout: 10 * time.Second})
	require.NoError(t, err)
	defer r.Close()

	ping := plugin.Script{
		Name:   "ping",
		Source: `(function () { window.ReactNativeWebView.postMessage(JSON.stringify({type: "PING"})); })();`,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	page, err := r.Open(ctx, server.URL+"/in/janedoe", ping)
	require.NoError(t, err)
	defer page.Close()

	assert.JSONEq(t, `{"type":"PING"}`, receive(t, page))
	assert.Equal(t, server.URL+"/in/janedoe", page.Location())

	require.NoError(t, page.Inject(ctx, script.ExtractProfile()))
	out := channel.Classify(receive(t, page), page.Location())
	require.Equal(t, channel.KindData, out.Kind)
	assert.Equal(t, "Jane Doe", out.Raw.FullName)
}

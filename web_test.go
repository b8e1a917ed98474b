/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPages = map[string]string{
	"Chat":  `<p>Le <a href="/wiki/Chien">chien</a> <a href="/wiki/Fichier:X.png">img</a> <a href="/wiki/Chat_noir">chat</a></p>`,
	"AC/DC": `<p><a href="/wiki/Hard_rock">hard rock</a></p>`,
}

// newTestServer starts a hub and the full router in front of a fake
// encyclopedia. Everything is torn down when the test ends.
func newTestServer(t *testing.T, cfg *Config) (*httptest.Server, *Hub) {
	t.Helper()

	wiki, err := newWiki(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	hub := newHub(cfg.roomTimeout)
	go hub.run(ctx)

	errs := make(chan error, 8)
	mux, err := newRouter(cfg, hub, wiki, errs)
	require.NoError(t, err)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return srv, hub
}

func get(t *testing.T, u string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, body
}

func TestHandler_Health(t *testing.T) {
	api := fakeAPI(t, testPages)
	srv, _ := newTestServer(t, testConfig(api.URL))

	resp, body := get(t, srv.URL+"/health")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestHandler_Links(t *testing.T) {
	api := fakeAPI(t, testPages)
	srv, _ := newTestServer(t, testConfig(api.URL))

	tests := []struct {
		name           string
		title          string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "existing article",
			title:          "Chat",
			expectedStatus: http.StatusOK,
			expectedBody:   `{"title":"Chat","count":2,"links":["Chien","Chat noir"]}`,
		},
		{
			name:           "title with a slash",
			title:          "AC/DC",
			expectedStatus: http.StatusOK,
			expectedBody:   `{"title":"AC/DC","count":1,"links":["Hard rock"]}`,
		},
		{
			name:           "missing article",
			title:          "Nulle part",
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"Page introuvable"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, srv.URL+"/links/"+url.PathEscape(tt.title))

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			assert.JSONEq(t, tt.expectedBody, string(body))
		})
	}
}

func TestHandler_UpstreamFailure(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer api.Close()

	srv, _ := newTestServer(t, testConfig(api.URL))

	for _, path := range []string{"/links/Chat", "/wiki/Chat"} {
		t.Run(path, func(t *testing.T) {
			resp, body := get(t, srv.URL+path)

			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			assert.JSONEq(t, `{"error":"Erreur serveur"}`, string(body))
		})
	}
}

func TestHandler_Article(t *testing.T) {
	api := fakeAPI(t, testPages)
	srv, _ := newTestServer(t, testConfig(api.URL))

	t.Run("existing article", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/wiki/Chat")

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.Contains(t, string(body), "<title>Chat</title>")
		assert.Contains(t, string(body), api.URL+"/w/load.php?modules=skins.vector.styles&only=styles")
		assert.Contains(t, string(body), testPages["Chat"])
		assert.Contains(t, resp.Header.Get("Content-Security-Policy"), api.URL)
		assert.Empty(t, resp.Header.Get("Cross-Origin-Embedder-Policy"))
	})

	t.Run("title with a slash", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/wiki/"+url.PathEscape("AC/DC"))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "<title>AC/DC</title>")
		assert.Contains(t, string(body), testPages["AC/DC"])
	})

	t.Run("missing article", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/wiki/Nulle_part")

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.JSONEq(t, `{"error":"Page introuvable"}`, string(body))
	})
}

func TestHandler_Version(t *testing.T) {
	api := fakeAPI(t, testPages)
	srv, _ := newTestServer(t, testConfig(api.URL))

	resp, body := get(t, srv.URL+"/version")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "wikirace v"+releaseVersion+"\n", string(body))
}

func TestHandler_QR(t *testing.T) {
	api := fakeAPI(t, testPages)
	srv, _ := newTestServer(t, testConfig(api.URL))

	resp, body := get(t, srv.URL+"/qr/r1")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG\r\n\x1a\n")))
}

func TestInviteURL(t *testing.T) {
	cfg := testConfig("https://fr.wikipedia.org")
	cfg.prefix = "/race"

	r := httptest.NewRequest(http.MethodGet, "http://example.org/race/qr/salle%201", nil)
	r.Header.Set("X-Forwarded-Proto", "https")

	assert.Equal(t, "https://example.org/race/?room=salle+1", inviteURL(cfg, r, "salle 1"))
}

func TestHandler_Static(t *testing.T) {
	api := fakeAPI(t, testPages)
	srv, _ := newTestServer(t, testConfig(api.URL))

	t.Run("index", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/")

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `<script src="app.js"></script>`)
		assert.Equal(t, "default-src 'self'", resp.Header.Get("Content-Security-Policy"))
	})

	t.Run("script", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/app.js")

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "joinRoom")
	})

	t.Run("robots", func(t *testing.T) {
		resp, body := get(t, srv.URL+"/robots.txt")

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "Disallow: /")
	})

	t.Run("unknown file", func(t *testing.T) {
		resp, _ := get(t, srv.URL+"/nope.txt")

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHandler_StaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("custom client"), 0o644))

	api := fakeAPI(t, testPages)
	cfg := testConfig(api.URL)
	cfg.staticDir = dir
	srv, _ := newTestServer(t, cfg)

	resp, body := get(t, srv.URL+"/")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "custom client", string(body))
}

func TestHandler_Prefix(t *testing.T) {
	api := fakeAPI(t, testPages)
	cfg := testConfig(api.URL)
	cfg.prefix = "/race"
	srv, _ := newTestServer(t, cfg)

	resp, body := get(t, srv.URL+"/race/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	resp, body = get(t, srv.URL+"/race/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "app.js")

	resp, body = get(t, srv.URL+"/race/wiki/Chat")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `<a href="/race/wiki/Chien">chien</a>`)
}

func TestHandler_Panic(t *testing.T) {
	api := fakeAPI(t, testPages)
	cfg := testConfig(api.URL)

	wiki, err := newWiki(cfg, nil)
	require.NoError(t, err)

	mux, err := newRouter(cfg, newHub(0), wiki, make(chan error, 1))
	require.NoError(t, err)
	mux.GET("/boom", func(http.ResponseWriter, *http.Request, httprouter.Params) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, msgServerError, body.Error)
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "remote addr", remote: "10.0.0.1:1234", want: "10.0.0.1:1234"},
		{name: "cloudflare", remote: "10.0.0.1:1234", headers: map[string]string{"CF-Connecting-IP": "203.0.113.7"}, want: "203.0.113.7:1234"},
		{name: "real ip", remote: "10.0.0.1:1234", headers: map[string]string{"X-Real-IP": "203.0.113.8"}, want: "203.0.113.8:1234"},
		{name: "bad header ignored", remote: "10.0.0.1:1234", headers: map[string]string{"X-Real-IP": "nope"}, want: "10.0.0.1:1234"},
		{name: "ipv6", remote: "[::1]:80", want: "[::1]:80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, realIP(r))
		})
	}
}

func TestHumanReadableSize(t *testing.T) {
	assert.Equal(t, "999 B", humanReadableSize(999))
	assert.Equal(t, "1.0 kB", humanReadableSize(1000))
	assert.Equal(t, "2.5 MB", humanReadableSize(2_500_000))
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

// articleHeaders relaxes securityHeaders for proxied articles, which pull
// stylesheets from the encyclopedia and images from its media hosts.
func articleHeaders(cfg *Config, site *url.URL, w http.ResponseWriter) {
	securityHeaders(cfg, w)

	origin := site.Scheme + "://" + site.Host

	w.Header().Del("Cross-Origin-Embedder-Policy")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline' "+origin+"; img-src 'self' data: https:; script-src 'none'")
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func serveVersion(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		if _, err := w.Write([]byte("wikirace v" + releaseVersion + "\n")); err != nil {
			reportError(errs, err)
		}
	}
}

// newRouter wires every route. The hub must be running for /ws to accept
// connections.
func newRouter(cfg *Config, hub *Hub, wiki *Wiki, errs chan<- error) (*httprouter.Router, error) {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		log.Error().Str("component", "ERROR").Interface("panic", i).Str("path", r.URL.Path).Msg("handler panicked")

		securityHeaders(cfg, w)
		_ = writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgServerError})
	}

	static, err := staticHandler(cfg)
	if err != nil {
		return nil, err
	}
	mux.NotFound = static

	mux.GET(cfg.prefix+"/health", serveHealthCheck(cfg, errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, errs))

	mux.GET(cfg.prefix+"/links/*title", serveLinks(cfg, wiki, errs))

	mux.GET(cfg.prefix+"/wiki/*title", serveArticle(cfg, wiki, wiki.site, errs))

	mux.GET(cfg.prefix+"/qr/:roomid", serveQR(cfg, errs))

	mux.GET(cfg.prefix+"/ws", serveWS(hub))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	return mux, nil
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	var err error

	log.Logger = newLogger(cfg, os.Stderr)

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	log.Info().Str("component", "START").Msgf("wikirace v%s", releaseVersion)

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	wiki, err := newWiki(cfg, nil)
	if err != nil {
		return err
	}

	hub := newHub(cfg.roomTimeout)
	go hub.run(ctx)

	errs := make(chan error, 64)
	go logErrors(ctx, errs)

	mux, err := newRouter(cfg, hub, wiki, errs)
	if err != nil {
		return err
	}

	// No WriteTimeout: a slow article fetch only holds up its own response.
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		var err error

		log.Info().Str("component", "SERVE").Msgf("Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)

		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		log.Error().Str("component", "ERROR").Err(err).Msg("server stopped")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"embed"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

//go:embed public/*
var public embed.FS

type healthResponse struct {
	OK bool `json:"ok"`
}

type linksResponse struct {
	Title string   `json:"title"`
	Count int      `json:"count"`
	Links []string `json:"links"`
}

// titleParam reads a catch-all title, which may itself contain slashes.
func titleParam(p httprouter.Params) string {
	return strings.TrimPrefix(p.ByName("title"), "/")
}

func serveHealthCheck(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		securityHeaders(cfg, w)

		if err := writeJSON(w, http.StatusOK, healthResponse{OK: true}); err != nil {
			reportError(errs, err)
		}
	}
}

func serveLinks(cfg *Config, src articleSource, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()
		title := titleParam(p)

		securityHeaders(cfg, w)

		fragment, err := src.Article(r.Context(), title)
		if err != nil {
			if err := writeFetchError(w, title, err); err != nil {
				reportError(errs, err)
			}
			return
		}

		links, err := extractLinks(fragment, cfg.namespaces)
		if err != nil {
			if err := writeFetchError(w, title, err); err != nil {
				reportError(errs, err)
			}
			return
		}

		if err := writeJSON(w, http.StatusOK, linksResponse{Title: title, Count: len(links), Links: links}); err != nil {
			reportError(errs, err)
			return
		}

		log.Debug().
			Str("component", "SERVE").
			Str("title", title).
			Int("links", len(links)).
			Str("remote", realIP(r)).
			Dur("elapsed", time.Since(startTime).Round(time.Microsecond)).
			Msg("served links")
	}
}

func serveArticle(cfg *Config, src articleSource, site *url.URL, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()
		title := titleParam(p)

		fragment, err := src.Article(r.Context(), title)
		if err != nil {
			securityHeaders(cfg, w)
			if err := writeFetchError(w, title, err); err != nil {
				reportError(errs, err)
			}
			return
		}

		page, err := renderArticle(site, cfg.wikiLang, cfg.prefix, title, fragment)
		if err != nil {
			securityHeaders(cfg, w)
			if err := writeFetchError(w, title, err); err != nil {
				reportError(errs, err)
			}
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(page)))
		articleHeaders(cfg, site, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte(page))
		if err != nil {
			reportError(errs, err)
			return
		}

		log.Debug().
			Str("component", "SERVE").
			Str("title", title).
			Str("size", humanReadableSize(int64(written))).
			Str("remote", realIP(r)).
			Dur("elapsed", time.Since(startTime).Round(time.Microsecond)).
			Msg("served article")
	}
}

// staticHandler serves the browser client, from disk when --static-dir is
// set and from the embedded copy otherwise.
func staticHandler(cfg *Config) (http.Handler, error) {
	var files http.FileSystem
	if cfg.staticDir != "" {
		files = http.Dir(cfg.staticDir)
	} else {
		sub, err := fs.Sub(public, "public")
		if err != nil {
			return nil, err
		}
		files = http.FS(sub)
	}

	fileServer := http.StripPrefix(cfg.prefix, http.FileServer(files))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)
		// The client frames proxied articles, which cannot satisfy require-corp.
		w.Header().Del("Cross-Origin-Embedder-Policy")

		fileServer.ServeHTTP(w, r)
	}), nil
}

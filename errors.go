/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	msgNotFound    = "Page introuvable"
	msgServerError = "Erreur serveur"
)

var errPageNotFound = errors.New("page not found")

type errorResponse struct {
	Error string `json:"error"`
}

func newLogger(cfg *Config, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.verbose {
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: logDate}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// logErrors drains write failures reported by handlers until ctx is done.
func logErrors(ctx context.Context, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			log.Error().Str("component", "ERROR").Err(err).Msg("write failed")
		}
	}
}

func reportError(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, errPageNotFound)
}

func writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(body)
}

// writeFetchError maps an article fetch failure to its HTTP response.
func writeFetchError(w http.ResponseWriter, title string, err error) error {
	if isNotFound(err) {
		return writeJSON(w, http.StatusNotFound, errorResponse{Error: msgNotFound})
	}

	log.Error().Str("component", "ERROR").Str("title", title).Err(err).Msg("article fetch failed")

	return writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgServerError})
}

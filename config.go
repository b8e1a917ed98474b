/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const minRoomTimeout = time.Second

var defaultNamespaces = []string{
	"Aide:",
	"Fichier:",
	"Spécial:",
	"Discussion:",
	"Catégorie:",
	"Portail:",
	"Modèle:",
}

type Config struct {
	bind         string
	fetchTimeout time.Duration
	namespaces   []string
	port         int
	prefix       string
	profile      bool
	roomTimeout  time.Duration
	staticDir    string
	tlsCert      string
	tlsKey       string
	userAgent    string
	verbose      bool
	version      bool
	wikiLang     string
	wikiURL      string
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.roomTimeout < 0 || (c.roomTimeout > 0 && c.roomTimeout < minRoomTimeout) {
		return fmt.Errorf("invalid room timeout (must be 0 or at least %s): %s", minRoomTimeout, c.roomTimeout)
	}
	if c.fetchTimeout < 0 {
		return fmt.Errorf("invalid fetch timeout (must not be negative): %s", c.fetchTimeout)
	}

	u, err := url.Parse(c.wikiURL)
	if err != nil {
		return fmt.Errorf("invalid wiki url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid wiki url (must be an absolute http or https url): %q", c.wikiURL)
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("WIKIRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "wikirace",
		Short:         "A multiplayer race from one encyclopedia article to another, following only internal links.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: WIKIRACE_BIND)")
	fs.DurationVar(&cfg.fetchTimeout, "fetch-timeout", 0, "time allowed for each article fetch, 0 to wait indefinitely (env: WIKIRACE_FETCH_TIMEOUT)")
	fs.StringSliceVar(&cfg.namespaces, "namespaces", defaultNamespaces, "article title prefixes excluded from link lists (env: WIKIRACE_NAMESPACES)")
	fs.IntVarP(&cfg.port, "port", "p", 3000, "port to listen on (env: WIKIRACE_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: WIKIRACE_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: WIKIRACE_PROFILE)")
	fs.DurationVar(&cfg.roomTimeout, "room-timeout", 0, "time before empty rooms are removed, 0 to keep them forever (env: WIKIRACE_ROOM_TIMEOUT)")
	fs.StringVar(&cfg.staticDir, "static-dir", "", "serve client assets from this directory instead of the built-in ones (env: WIKIRACE_STATIC_DIR)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: WIKIRACE_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: WIKIRACE_TLS_KEY)")
	fs.StringVar(&cfg.userAgent, "user-agent", "wikirace/"+releaseVersion, "user agent sent to the encyclopedia api (env: WIKIRACE_USER_AGENT)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: WIKIRACE_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: WIKIRACE_VERSION)")
	fs.StringVar(&cfg.wikiLang, "wiki-lang", "fr", "language tag of proxied article pages (env: WIKIRACE_WIKI_LANG)")
	fs.StringVar(&cfg.wikiURL, "wiki-url", "https://fr.wikipedia.org", "base url of the encyclopedia (env: WIKIRACE_WIKI_URL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("wikirace v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

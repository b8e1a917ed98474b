/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

const articlePrefix = "/wiki/"

// articleSource returns the rendered HTML fragment of an article, or an error
// wrapping errPageNotFound when the encyclopedia has no such page.
type articleSource interface {
	Article(ctx context.Context, title string) (string, error)
}

// Wiki talks to a MediaWiki parse API.
type Wiki struct {
	client    *http.Client
	site      *url.URL
	timeout   time.Duration
	userAgent string
}

type parseResponse struct {
	Parse *struct {
		Title string            `json:"title"`
		Text  map[string]string `json:"text"`
	} `json:"parse"`
}

func newWiki(cfg *Config, client *http.Client) (*Wiki, error) {
	site, err := url.Parse(cfg.wikiURL)
	if err != nil {
		return nil, fmt.Errorf("parse wiki url: %w", err)
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &Wiki{
		client:    client,
		site:      site,
		timeout:   cfg.fetchTimeout,
		userAgent: cfg.userAgent,
	}, nil
}

func (wk *Wiki) apiURL(title string) string {
	u := wk.site.JoinPath("w", "api.php")

	q := url.Values{}
	q.Set("action", "parse")
	q.Set("page", title)
	q.Set("prop", "text")
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	return u.String()
}

func (wk *Wiki) Article(ctx context.Context, title string) (string, error) {
	if wk.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wk.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wk.apiURL(title), nil)
	if err != nil {
		return "", err
	}
	if wk.userAgent != "" {
		req.Header.Set("User-Agent", wk.userAgent)
	}

	resp, err := wk.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %q: %w", title, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %q: unexpected status %s", title, resp.Status)
	}

	var body parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode %q: %w", title, err)
	}

	if body.Parse == nil {
		return "", fmt.Errorf("%q: %w", title, errPageNotFound)
	}

	fragment, ok := body.Parse.Text["*"]
	if !ok {
		return "", fmt.Errorf("decode %q: response has no article text", title)
	}

	return fragment, nil
}

// extractLinks lists the article titles linked from fragment, in document
// order. Links into any of the given namespaces are skipped.
func extractLinks(fragment string, namespaces []string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("parse article: %w", err)
	}

	links := []string{}

	var decodeErr error
	doc.Find(`a[href^="` + articlePrefix + `"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimPrefix(s.AttrOr("href", ""), articlePrefix)
		if inNamespace(raw, namespaces) {
			return true
		}

		title, err := url.PathUnescape(raw)
		if err != nil {
			decodeErr = fmt.Errorf("decode link %q: %w", raw, err)
			return false
		}
		if inNamespace(title, namespaces) {
			return true
		}

		links = append(links, strings.ReplaceAll(title, "_", " "))

		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}

	return links, nil
}

func inNamespace(title string, namespaces []string) bool {
	for _, ns := range namespaces {
		if ns != "" && strings.HasPrefix(title, ns) {
			return true
		}
	}
	return false
}

var titlePolicy = bluemonday.StrictPolicy()

// prefixLinks points the fragment's article links at prefix+"/wiki/", so a
// client behind a path prefix stays inside the proxy.
func prefixLinks(fragment, prefix string) (string, error) {
	if prefix == "" {
		return fragment, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parse article: %w", err)
	}

	doc.Find(`a[href^="` + articlePrefix + `"]`).Each(func(_ int, s *goquery.Selection) {
		s.SetAttr("href", prefix+s.AttrOr("href", ""))
	})

	return doc.Find("body").Html()
}

// renderArticle wraps an article fragment in a standalone page styled by the
// encyclopedia's own stylesheets.
func renderArticle(site *url.URL, lang, prefix, title, fragment string) (string, error) {
	fragment, err := prefixLinks(fragment, prefix)
	if err != nil {
		return "", err
	}

	styles := func(module string) string {
		u := site.JoinPath("w", "load.php")
		u.RawQuery = "modules=" + module + "&only=styles"
		return u.String()
	}

	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html>`)
	htmlBody.WriteString(fmt.Sprintf(`<html lang="%s"><head>`, titlePolicy.Sanitize(lang)))
	htmlBody.WriteString(`<meta charset="utf-8">`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title>", titlePolicy.Sanitize(title)))
	htmlBody.WriteString(fmt.Sprintf(`<link rel="stylesheet" href="%s">`, styles("site.styles")))
	htmlBody.WriteString(fmt.Sprintf(`<link rel="stylesheet" href="%s">`, styles("skins.vector.styles")))
	htmlBody.WriteString(`</head><body>`)
	htmlBody.WriteString(fragment)
	htmlBody.WriteString(`</body></html>`)

	return htmlBody.String(), nil
}

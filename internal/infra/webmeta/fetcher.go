// internal/infra/webmeta/fetcher.go
package webmeta

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	fetchTimeout = 5 * time.Second
	maxBodyBytes = 200_000
	userAgent    = "GiftCircleBot/1.0"
)

var (
	titlePattern = regexp.MustCompile(`(?i)<title[^>]*>([^<]+)</title>`)
	pricePattern = regexp.MustCompile(`\$\s?([0-9]+(?:\.[0-9]{2})?)`)
)

// Meta is whatever could be scraped from a suggested gift page. Both fields
// are empty when the page was unreachable or unparseable; that is not an error.
type Meta struct {
	Title string
	Price string
}

// Fetcher pulls best-effort title and price metadata from a gift URL.
type Fetcher struct {
	client *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: fetchTimeout}}
}

// Fetch never returns an error: a failed or slow fetch degrades to empty Meta
// so a suggestion is never rejected because of someone else's web server.
func (f *Fetcher) Fetch(ctx context.Context, url string) Meta {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Meta{}
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := f.client.Do(req)
	if err != nil {
		return Meta{}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Meta{}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return Meta{}
	}
	text := string(body)

	meta := Meta{}
	if m := titlePattern.FindStringSubmatch(text); m != nil {
		meta.Title = strings.TrimSpace(m[1])
	}
	if m := pricePattern.FindStringSubmatch(text); m != nil {
		meta.Price = "$" + m[1]
	}
	return meta
}

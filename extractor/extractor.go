// Package extractor pulls hyperlinks out of HTML fragments and classifies
// them against the scanned site. It performs no I/O.
package extractor

import (
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"linkscan/models"
)

const defaultSelector = "a[href], area[href]"

// Link is one discovered reference. URL is already normalized.
type Link struct {
	URL    string
	Type   models.LinkType
	Source string
}

type Options struct {
	// Exclude drops every element matching one of these selectors before
	// links are collected, e.g. "nav" when menus are out of scope.
	Exclude []string
}

type Extractor struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract returns the unique links referenced by body, resolved against
// pageURL. A malformed href is skipped, never fatal.
func (e *Extractor) Extract(pageURL string, body io.Reader, siteHost, source string, opts Options) ([]Link, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}
	for _, sel := range opts.Exclude {
		doc.Find(sel).Remove()
	}

	var hrefs []string
	doc.Find(defaultSelector).Each(func(i int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})

	return e.Resolve(base, hrefs, siteHost, source), nil
}

// Resolve normalizes raw hrefs against base and drops duplicates, fragment-only
// references and non-http schemes.
func (e *Extractor) Resolve(base *url.URL, hrefs []string, siteHost, source string) []Link {
	seen := make(map[string]struct{}, len(hrefs))
	links := make([]Link, 0, len(hrefs))

	for _, href := range hrefs {
		resolved, ok := e.resolveOne(base, href)
		if !ok {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		links = append(links, Link{
			URL:    resolved,
			Type:   Classify(resolved, siteHost),
			Source: source,
		})
	}
	return links
}

func (e *Extractor) resolveOne(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:", "sms:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		e.logger.Debug("skipping malformed href", zap.String("href", href), zap.Error(err))
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	normalized, ok := Normalize(ref)
	if !ok {
		e.logger.Debug("skipping unsupported link", zap.String("href", href))
	}
	return normalized, ok
}

// Normalize lowercases scheme and host and strips the fragment. Nothing else
// is rewritten, so scheme or path variants stay distinct links.
func Normalize(u *url.URL) (string, bool) {
	if u == nil || !u.IsAbs() {
		return "", false
	}
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	if n.Scheme != "http" && n.Scheme != "https" {
		return "", false
	}
	n.Host = strings.ToLower(n.Host)
	if n.Host == "" {
		return "", false
	}
	n.Fragment = ""
	n.RawFragment = ""
	return n.String(), true
}

// Classify is internal iff the URL's host equals siteHost, ignoring case.
func Classify(rawURL, siteHost string) models.LinkType {
	u, err := url.Parse(rawURL)
	if err != nil {
		return models.LinkTypeExternal
	}
	if strings.EqualFold(u.Host, siteHost) {
		return models.LinkTypeInternal
	}
	return models.LinkTypeExternal
}

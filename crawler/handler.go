// Package crawler enumerates a site's pages, menus and widgets and runs
// scans over the links they contain.
package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"linkscan/config"
)

var (
	ErrInvalidSite     = errors.New("invalid site")
	ErrScanInProgress  = errors.New("a scan is already running for this site")
	ErrSiteUnreachable = errors.New("site unreachable")
	ErrNotWordPress    = errors.New("site does not expose the WordPress REST API")
)

type TargetKind string

const (
	TargetPage   TargetKind = "page"
	TargetMenu   TargetKind = "menu"
	TargetWidget TargetKind = "widget"
)

// Target is one unit of inventory. Links are extracted from HTML, and Links
// holds hrefs that are already known (menu items).
type Target struct {
	Kind    TargetKind
	Source  string
	BaseURL string
	HTML    string
	Links   []string
	Exclude []string
}

// Inventory describes what a handler should enumerate.
type Inventory struct {
	Site           *url.URL
	IncludeMenus   bool
	IncludeWidgets bool
	MaxPages       int
}

// Handler enumerates a site's targets. emit blocks until the target is
// accepted and fails once the scan is stopped.
type Handler interface {
	Name() string
	Enumerate(ctx context.Context, inv Inventory, emit func(Target) error) error
}

type fetchOptions struct {
	client    *http.Client
	userAgent string
	authUser  string
	authPass  string
	logger    *zap.Logger
}

// NewHandler picks a handler by name: wordpress, html, or auto (WordPress
// REST API first, HTML crawl when the API is missing).
func NewHandler(name string, client *http.Client, userAgent string, site *config.SiteConfig, logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := fetchOptions{client: client, userAgent: userAgent, logger: logger}
	if site != nil {
		if site.Handler != "" {
			name = site.Handler
		}
		opts.authUser = site.AuthUser
		opts.authPass = site.AuthPassword
	}

	switch strings.ToLower(name) {
	case "wordpress", "wp":
		return NewWordPressHandler(opts)
	case "html":
		return NewHTMLHandler(opts)
	default:
		return &autoHandler{
			wp:     NewWordPressHandler(opts),
			html:   NewHTMLHandler(opts),
			logger: logger,
		}
	}
}

type autoHandler struct {
	wp     *WordPressHandler
	html   *HTMLHandler
	logger *zap.Logger
}

func (h *autoHandler) Name() string { return "auto" }

func (h *autoHandler) Enumerate(ctx context.Context, inv Inventory, emit func(Target) error) error {
	err := h.wp.Enumerate(ctx, inv, emit)
	if errors.Is(err, ErrNotWordPress) {
		h.logger.Info("falling back to html crawl", zap.String("site", inv.Site.String()), zap.Error(err))
		return h.html.Enumerate(ctx, inv, emit)
	}
	return err
}

// siteRoot is scheme://host/ of the scanned site.
func siteRoot(site *url.URL) *url.URL {
	return &url.URL{Scheme: site.Scheme, Host: site.Host, Path: "/"}
}

func (o fetchOptions) newRequest(ctx context.Context, rawURL, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", o.userAgent)
	req.Header.Set("Accept", accept)
	if o.authUser != "" {
		req.SetBasicAuth(o.authUser, o.authPass)
	}
	return req, nil
}

package crawler

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"linkscan/extractor"
	"linkscan/models"
)

const (
	htmlMaxBodyBytes = 5 << 20

	menuSelector   = "nav"
	widgetSelector = "aside, .widget"
)

// extensions never fetched as pages
var assetExtensions = map[string]bool{
	".pdf": true, ".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true, ".webp": true,
	".zip": true, ".gz": true, ".mp3": true, ".mp4": true, ".mov": true, ".css": true, ".js": true,
	".xml": true, ".json": true, ".ico": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
}

// HTMLHandler crawls same-host pages breadth-first from the site root. Menus
// and widgets are read from the root page's nav and sidebar markup and are
// kept out of page targets.
type HTMLHandler struct {
	fetchOptions
	extractor *extractor.Extractor
}

func NewHTMLHandler(opts fetchOptions) *HTMLHandler {
	return &HTMLHandler{fetchOptions: opts, extractor: extractor.New(opts.logger)}
}

func (h *HTMLHandler) Name() string { return "html" }

func (h *HTMLHandler) Enumerate(ctx context.Context, inv Inventory, emit func(Target) error) error {
	root := siteRoot(inv.Site)
	host := strings.ToLower(root.Host)

	start := inv.Site.String()
	if inv.Site.Path == "" {
		start = root.String()
	}
	queue := []string{start}
	seen := map[string]bool{start: true}
	// final URLs after redirects, so two links landing on one page yield one target
	landed := map[string]bool{}
	fetched := 0

	for len(queue) > 0 {
		if inv.MaxPages > 0 && fetched >= inv.MaxPages {
			h.logger.Debug("page limit reached", zap.String("site", root.String()), zap.Int("max_pages", inv.MaxPages))
			break
		}
		pageURL := queue[0]
		queue = queue[1:]

		doc, finalURL, err := h.fetchPage(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if fetched == 0 {
				return fmt.Errorf("%w: %v", ErrSiteUnreachable, err)
			}
			h.logger.Warn("page fetch failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		if doc == nil {
			// not an HTML document
			continue
		}
		if final, ok := extractor.Normalize(finalURL); ok {
			if landed[final] {
				h.logger.Debug("page already crawled", zap.String("url", pageURL), zap.String("final_url", final))
				continue
			}
			landed[final] = true
			seen[final] = true
		}
		fetched++

		if fetched == 1 {
			if err := h.emitChrome(doc, finalURL, inv, emit); err != nil {
				return err
			}
		}

		// discover further pages before the chrome is stripped
		var hrefs []string
		doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			hrefs = append(hrefs, href)
		})
		for _, l := range h.extractor.Resolve(finalURL, hrefs, host, "") {
			if l.Type != models.LinkTypeInternal || seen[l.URL] || !crawlable(l.URL) {
				continue
			}
			seen[l.URL] = true
			queue = append(queue, l.URL)
		}

		doc.Find(menuSelector).Remove()
		doc.Find(widgetSelector).Remove()
		body, err := doc.Html()
		if err != nil {
			h.logger.Warn("render page", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		t := Target{Kind: TargetPage, Source: pageURL, BaseURL: finalURL.String(), HTML: body}
		if err := emit(t); err != nil {
			return err
		}
	}
	return nil
}

// emitChrome turns the root page's navigation and sidebars into menu and
// widget targets.
func (h *HTMLHandler) emitChrome(doc *goquery.Document, base *url.URL, inv Inventory, emit func(Target) error) error {
	if inv.IncludeMenus {
		if hrefs := collectHrefs(doc, menuSelector); len(hrefs) > 0 {
			t := Target{Kind: TargetMenu, Source: "menu:nav", BaseURL: base.String(), Links: hrefs}
			if err := emit(t); err != nil {
				return err
			}
		}
	}
	if inv.IncludeWidgets {
		if hrefs := collectHrefs(doc, widgetSelector); len(hrefs) > 0 {
			t := Target{Kind: TargetWidget, Source: "widget:sidebar", BaseURL: base.String(), Links: hrefs}
			if err := emit(t); err != nil {
				return err
			}
		}
	}
	return nil
}

func collectHrefs(doc *goquery.Document, selector string) []string {
	var hrefs []string
	doc.Find(selector).Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		hrefs = append(hrefs, href)
	})
	return hrefs
}

// fetchPage returns a nil document for non-HTML responses.
func (h *HTMLHandler) fetchPage(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	req, err := h.newRequest(ctx, pageURL, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, nil, fmt.Errorf("GET %s: HTTP %d", pageURL, resp.StatusCode)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "" && mt != "text/html" && mt != "application/xhtml+xml" {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.Request.URL, nil
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, htmlMaxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, resp.Request.URL, nil
}

func crawlable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return !assetExtensions[strings.ToLower(path.Ext(u.Path))]
}

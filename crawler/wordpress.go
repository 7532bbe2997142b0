package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	wpPerPage      = 100
	wpMaxBodyBytes = 20 << 20
	// sidebar WordPress parks disabled widgets in
	wpInactiveSidebar = "wp_inactive_widgets"
)

// WordPressHandler enumerates a site through the WordPress REST API: pages
// from wp/v2/pages, menus from wp/v2/menu-items and widgets from wp/v2/widgets.
type WordPressHandler struct {
	fetchOptions
}

func NewWordPressHandler(opts fetchOptions) *WordPressHandler {
	return &WordPressHandler{fetchOptions: opts}
}

func (h *WordPressHandler) Name() string { return "wordpress" }

type wpPage struct {
	Link    string `json:"link"`
	Content struct {
		Rendered string `json:"rendered"`
	} `json:"content"`
}

type wpMenuItem struct {
	ID    int    `json:"id"`
	URL   string `json:"url"`
	Menus int    `json:"menus"`
}

type wpWidget struct {
	ID       string `json:"id"`
	Sidebar  string `json:"sidebar"`
	Rendered string `json:"rendered"`
}

type statusError struct {
	URL  string
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

func isAuthError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden)
}

func (h *WordPressHandler) Enumerate(ctx context.Context, inv Inventory, emit func(Target) error) error {
	root := siteRoot(inv.Site)
	log := h.logger.With(zap.String("site", root.String()))

	emitted := 0
	for page := 1; ; page++ {
		var pages []wpPage
		totalPages, err := h.getJSON(ctx, root, "/wp-json/wp/v2/pages", url.Values{
			"per_page": {strconv.Itoa(wpPerPage)},
			"page":     {strconv.Itoa(page)},
			"_fields":  {"link,content"},
		}, &pages)
		if err != nil {
			if page == 1 {
				return fmt.Errorf("%w: %v", ErrNotWordPress, err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("stopping page enumeration", zap.Int("page", page), zap.Error(err))
			break
		}

		for _, p := range pages {
			if inv.MaxPages > 0 && emitted >= inv.MaxPages {
				break
			}
			base := p.Link
			if base == "" {
				base = root.String()
			}
			if err := emit(Target{Kind: TargetPage, Source: base, BaseURL: base, HTML: p.Content.Rendered}); err != nil {
				return err
			}
			emitted++
		}

		if len(pages) == 0 || page >= totalPages || (inv.MaxPages > 0 && emitted >= inv.MaxPages) {
			break
		}
	}
	log.Debug("wordpress pages enumerated", zap.Int("pages", emitted))

	if inv.IncludeMenus {
		if err := h.enumerateMenus(ctx, root, emit); err != nil {
			return err
		}
	}
	if inv.IncludeWidgets {
		if err := h.enumerateWidgets(ctx, root, emit); err != nil {
			return err
		}
	}
	return nil
}

func (h *WordPressHandler) enumerateMenus(ctx context.Context, root *url.URL, emit func(Target) error) error {
	byMenu := map[int][]string{}
	for page := 1; ; page++ {
		var items []wpMenuItem
		totalPages, err := h.getJSON(ctx, root, "/wp-json/wp/v2/menu-items", url.Values{
			"per_page": {strconv.Itoa(wpPerPage)},
			"page":     {strconv.Itoa(page)},
		}, &items)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// menu-items needs an authenticated user on most installs
			h.logger.Warn("skipping menus", zap.String("site", root.String()),
				zap.Bool("auth_required", isAuthError(err)), zap.Error(err))
			return nil
		}
		for _, it := range items {
			if it.URL != "" {
				byMenu[it.Menus] = append(byMenu[it.Menus], it.URL)
			}
		}
		if len(items) == 0 || page >= totalPages {
			break
		}
	}

	ids := make([]int, 0, len(byMenu))
	for id := range byMenu {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		t := Target{
			Kind:    TargetMenu,
			Source:  "menu:" + strconv.Itoa(id),
			BaseURL: root.String(),
			Links:   byMenu[id],
		}
		if err := emit(t); err != nil {
			return err
		}
	}
	return nil
}

func (h *WordPressHandler) enumerateWidgets(ctx context.Context, root *url.URL, emit func(Target) error) error {
	var widgets []wpWidget
	if _, err := h.getJSON(ctx, root, "/wp-json/wp/v2/widgets", nil, &widgets); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.logger.Warn("skipping widgets", zap.String("site", root.String()),
			zap.Bool("auth_required", isAuthError(err)), zap.Error(err))
		return nil
	}

	for _, w := range widgets {
		if w.Sidebar == wpInactiveSidebar || strings.TrimSpace(w.Rendered) == "" {
			continue
		}
		t := Target{
			Kind:    TargetWidget,
			Source:  "widget:" + w.Sidebar,
			BaseURL: root.String(),
			HTML:    w.Rendered,
		}
		if err := emit(t); err != nil {
			return err
		}
	}
	return nil
}

// getJSON decodes a REST collection into out and returns X-WP-TotalPages
// (1 when absent).
func (h *WordPressHandler) getJSON(ctx context.Context, root *url.URL, path string, query url.Values, out any) (int, error) {
	u := *root
	u.Path = path
	u.RawQuery = query.Encode()

	req, err := h.newRequest(ctx, u.String(), "application/json")
	if err != nil {
		return 0, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, &statusError{URL: u.String(), Code: resp.StatusCode}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "json") {
		return 0, fmt.Errorf("GET %s: unexpected content type %q", u.String(), ct)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, wpMaxBodyBytes)).Decode(out); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}

	totalPages := 1
	if v := resp.Header.Get("X-WP-TotalPages"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			totalPages = n
		}
	}
	return totalPages, nil
}

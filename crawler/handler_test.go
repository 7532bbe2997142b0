package crawler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkscan/config"
	"linkscan/models"
)

func writeJSON(w http.ResponseWriter, totalPages string, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if totalPages != "" {
		w.Header().Set("X-WP-TotalPages", totalPages)
	}
	json.NewEncoder(w).Encode(v)
}

// newWordPressSite fakes the three REST collections. Menu items require
// basic auth as admin/secret.
func newWordPressSite(t *testing.T, external string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/wp-json/wp/v2/pages", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			writeJSON(w, "2", []map[string]any{
				{"link": srv.URL + "/about/", "content": map[string]string{"rendered": `<p><a href="/contact/">Contact</a></p>`}},
			})
		case "2":
			writeJSON(w, "2", []map[string]any{
				{"link": srv.URL + "/contact/", "content": map[string]string{"rendered": `<a href="` + external + `">out</a>`}},
			})
		default:
			http.Error(w, `{"code":"rest_post_invalid_page_number"}`, http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/wp-json/wp/v2/menu-items", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "admin" || pass != "secret" {
			http.Error(w, `{"code":"rest_forbidden"}`, http.StatusUnauthorized)
			return
		}
		writeJSON(w, "1", []map[string]any{
			{"id": 10, "url": srv.URL + "/about/", "menus": 3},
			{"id": 11, "url": external, "menus": 3},
			{"id": 12, "url": srv.URL + "/", "menus": 5},
		})
	})
	mux.HandleFunc("/wp-json/wp/v2/widgets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, "", []map[string]any{
			{"id": "block-2", "sidebar": "sidebar-1", "rendered": `<a href="/about/">About</a>`},
			{"id": "block-3", "sidebar": "wp_inactive_widgets", "rendered": `<a href="/hidden/">x</a>`},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w, `<a href="/about/">About</a>`)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type targetSink struct {
	mu      sync.Mutex
	targets []Target
}

func (s *targetSink) emit(t Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, t)
	return nil
}

func (s *targetSink) sources(kind TargetKind) []string {
	var out []string
	for _, t := range s.targets {
		if t.Kind == kind {
			out = append(out, t.Source)
		}
	}
	return out
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestWordPressHandler_Enumerate(t *testing.T) {
	srv := newWordPressSite(t, "https://example.org/")
	h := NewHandler("wordpress", srv.Client(), "test", &config.SiteConfig{AuthUser: "admin", AuthPassword: "secret"}, nil)
	assert.Equal(t, "wordpress", h.Name())

	sink := &targetSink{}
	inv := Inventory{Site: mustParse(t, srv.URL), IncludeMenus: true, IncludeWidgets: true}
	require.NoError(t, h.Enumerate(context.Background(), inv, sink.emit))

	assert.Equal(t, []string{srv.URL + "/about/", srv.URL + "/contact/"}, sink.sources(TargetPage))
	assert.Equal(t, []string{"menu:3", "menu:5"}, sink.sources(TargetMenu))
	assert.Equal(t, []string{"widget:sidebar-1"}, sink.sources(TargetWidget))

	for _, tg := range sink.targets {
		if tg.Source == "menu:3" {
			assert.Equal(t, []string{srv.URL + "/about/", "https://example.org/"}, tg.Links)
		}
	}
}

func TestWordPressHandler_MenusSkippedWithoutAuth(t *testing.T) {
	srv := newWordPressSite(t, "https://example.org/")
	h := NewHandler("wordpress", srv.Client(), "test", nil, nil)

	sink := &targetSink{}
	inv := Inventory{Site: mustParse(t, srv.URL), IncludeMenus: true}
	require.NoError(t, h.Enumerate(context.Background(), inv, sink.emit))

	assert.Empty(t, sink.sources(TargetMenu))
	assert.Len(t, sink.sources(TargetPage), 2)
}

func TestWordPressHandler_MaxPages(t *testing.T) {
	srv := newWordPressSite(t, "https://example.org/")
	h := NewHandler("wp", srv.Client(), "test", nil, nil)

	sink := &targetSink{}
	inv := Inventory{Site: mustParse(t, srv.URL), MaxPages: 1}
	require.NoError(t, h.Enumerate(context.Background(), inv, sink.emit))
	assert.Equal(t, []string{srv.URL + "/about/"}, sink.sources(TargetPage))
}

func TestWordPressHandler_NotWordPress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w, "plain site")
	}))
	t.Cleanup(srv.Close)

	h := NewHandler("wordpress", srv.Client(), "test", nil, nil)
	err := h.Enumerate(context.Background(), Inventory{Site: mustParse(t, srv.URL)}, (&targetSink{}).emit)
	assert.ErrorIs(t, err, ErrNotWordPress)
}

func TestAutoHandler_FallsBackToHTML(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			writeHTML(w, `<nav><a href="/a">A</a></nav><aside><a href="/b">B</a></aside><a href="/c">C</a><a href="/file.pdf">pdf</a>`)
		case "/a", "/b", "/c":
			writeHTML(w, `<p>leaf</p>`)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	h := NewHandler("", srv.Client(), "test", nil, nil)
	assert.Equal(t, "auto", h.Name())

	sink := &targetSink{}
	inv := Inventory{Site: mustParse(t, srv.URL), IncludeMenus: true, IncludeWidgets: true}
	require.NoError(t, h.Enumerate(context.Background(), inv, sink.emit))

	assert.ElementsMatch(t,
		[]string{srv.URL + "/", srv.URL + "/a", srv.URL + "/b", srv.URL + "/c"},
		sink.sources(TargetPage))
	assert.Equal(t, []string{"menu:nav"}, sink.sources(TargetMenu))
	assert.Equal(t, []string{"widget:sidebar"}, sink.sources(TargetWidget))

	for _, tg := range sink.targets {
		if tg.Kind == TargetPage && tg.Source == srv.URL+"/" {
			assert.NotContains(t, tg.HTML, `href="/a"`)
			assert.NotContains(t, tg.HTML, `href="/b"`)
			assert.Contains(t, tg.HTML, `href="/c"`)
		}
	}
}

func TestHTMLHandler_PageLimit(t *testing.T) {
	site, _ := newLinkedSites(t)
	h := NewHandler("html", site.Client(), "test", nil, nil)

	sink := &targetSink{}
	require.NoError(t, h.Enumerate(context.Background(), Inventory{Site: mustParse(t, site.URL), MaxPages: 2}, sink.emit))
	assert.Len(t, sink.sources(TargetPage), 2)
}

func TestEngine_WordPressSources(t *testing.T) {
	external := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(external.Close)
	srv := newWordPressSite(t, external.URL+"/")

	engine, store := newTestEngine(t, Options{})
	engine.SetSites(func(host string) *config.SiteConfig {
		return &config.SiteConfig{AuthUser: "admin", AuthPassword: "secret"}
	})

	scan, err := engine.Start(context.Background(), StartRequest{Site: srv.URL, IncludeMenus: true, IncludeWidgets: true})
	require.NoError(t, err)
	waitDone(t, engine, scan.ID)

	got, err := store.GetScan(context.Background(), scan.ID)
	require.NoError(t, err)
	require.Equal(t, models.ScanStatusCompleted, got.Status, got.Error)

	links, _, err := store.ListLinks(context.Background(), scan.ID, models.LinkQuery{Grouped: true, PerPage: 100})
	require.NoError(t, err)
	byURL := map[string]models.ScanLink{}
	for _, l := range links {
		byURL[l.URL] = l
	}
	about := byURL[srv.URL+"/about/"]
	assert.ElementsMatch(t, []string{"menu:3", "widget:sidebar-1"}, about.Sources)
	assert.ElementsMatch(t, []string{"menu:3", srv.URL + "/contact/"}, byURL[external.URL+"/"].Sources)
	assert.Equal(t, []string{srv.URL + "/about/"}, byURL[srv.URL+"/contact/"].Sources)
	assert.NotContains(t, byURL, srv.URL+"/hidden/")
}

func TestHTMLHandler_RedirectedPageCrawledOnce(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			writeHTML(w, `<a href="/old">old</a> <a href="/new">new</a>`)
		case "/old":
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
		case "/new":
			writeHTML(w, `<a href="/">home</a> <a href="/old">old</a>`)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	h := NewHandler("html", srv.Client(), "test", nil, nil)
	sink := &targetSink{}
	require.NoError(t, h.Enumerate(context.Background(), Inventory{Site: mustParse(t, srv.URL)}, sink.emit))

	var bases []string
	for _, tg := range sink.targets {
		if tg.Kind == TargetPage {
			bases = append(bases, tg.BaseURL)
		}
	}
	assert.ElementsMatch(t, []string{srv.URL + "/", srv.URL + "/new"}, bases)
}

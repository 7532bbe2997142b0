package extractor

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkscan/models"
)

const pageHTML = `<html><body>
<nav><a href="/menu-only">Menu</a></nav>
<main>
  <a href="/about">About</a>
  <a href="about#team">About team</a>
  <a href="#top">Top</a>
  <a href="https://Example.COM/contact">Contact</a>
  <a href="https://other.org/page#x">Other</a>
  <a href="http://example.com/about">Plain http</a>
  <a href="mailto:hi@example.com">Mail</a>
  <a href="javascript:void(0)">JS</a>
  <a href="http://[::1">Broken</a>
  <a href="/about">Duplicate</a>
  <map><area href="/area-target"></map>
</main>
<aside class="widget"><a href="https://widgets.example.net/">Widget</a></aside>
</body></html>`

func urls(links []Link) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.URL)
	}
	return out
}

func TestExtract_ResolvesAndDeduplicates(t *testing.T) {
	e := New(nil)
	links, err := e.Extract("https://example.com/blog/", strings.NewReader(pageHTML), "example.com", "https://example.com/blog/", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://example.com/menu-only",
		"https://example.com/about",
		"https://example.com/blog/about",
		"https://example.com/contact",
		"https://other.org/page",
		"http://example.com/about",
		"https://example.com/area-target",
		"https://widgets.example.net/",
	}, urls(links))

	for _, l := range links {
		assert.Equal(t, "https://example.com/blog/", l.Source)
	}
}

func TestExtract_ClassifiesByHost(t *testing.T) {
	e := New(nil)
	links, err := e.Extract("https://example.com/", strings.NewReader(pageHTML), "EXAMPLE.com", "page", Options{})
	require.NoError(t, err)

	types := map[string]models.LinkType{}
	for _, l := range links {
		types[l.URL] = l.Type
	}
	assert.Equal(t, models.LinkTypeInternal, types["https://example.com/contact"])
	assert.Equal(t, models.LinkTypeInternal, types["http://example.com/about"])
	assert.Equal(t, models.LinkTypeExternal, types["https://other.org/page"])
	assert.Equal(t, models.LinkTypeExternal, types["https://widgets.example.net/"])
}

func TestExtract_ExcludesSelectors(t *testing.T) {
	e := New(nil)
	links, err := e.Extract("https://example.com/", strings.NewReader(pageHTML), "example.com", "page",
		Options{Exclude: []string{"nav", "aside, .widget"}})
	require.NoError(t, err)

	got := urls(links)
	assert.NotContains(t, got, "https://example.com/menu-only")
	assert.NotContains(t, got, "https://widgets.example.net/")
	assert.Contains(t, got, "https://example.com/about")
}

func TestResolve_MenuLinks(t *testing.T) {
	e := New(nil)
	base, _ := url.Parse("https://example.com/")
	links := e.Resolve(base, []string{"/shop", "https://EXAMPLE.com/shop", "#", ""}, "example.com", "menu:2")

	require.Len(t, links, 1)
	assert.Equal(t, "https://example.com/shop", links[0].URL)
	assert.Equal(t, "menu:2", links[0].Source)
}

func TestClassify_IsPure(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.Equal(t, models.LinkTypeInternal, Classify("https://a.example.com/x", "A.example.com"))
		assert.Equal(t, models.LinkTypeExternal, Classify("https://b.example.com/x", "a.example.com"))
	}
}

func TestNormalize(t *testing.T) {
	u, _ := url.Parse("HTTPS://Example.com/Path?q=1#frag")
	got, ok := Normalize(u)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/Path?q=1", got)

	u, _ = url.Parse("ftp://example.com/file")
	_, ok = Normalize(u)
	assert.False(t, ok)
}

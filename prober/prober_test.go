package prober

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkscan/models"
)

func newTestProber(cfg Config) *Prober {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return New(client, cfg, nil)
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[models.LinkStatus]int
}

func (o *countingObserver) ObserveProbe(status models.LinkStatus, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[models.LinkStatus]int)
	}
	o.counts[status]++
}

func TestProbe_StatusCodes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	obs := &countingObserver{}
	p := newTestProber(Config{Timeout: time.Second, MaxRedirects: 5})
	p.SetObserver(obs)

	tests := []struct {
		path   string
		status models.LinkStatus
		code   int
	}{
		{"/ok", models.LinkStatusOK, 200},
		{"/missing", models.LinkStatusBroken, 404},
		{"/error", models.LinkStatusBroken, 500},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res := p.Probe(context.Background(), srv.URL+tt.path)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.code, res.HTTPCode)
			assert.False(t, res.Redirected())
		})
	}

	assert.Equal(t, 1, obs.counts[models.LinkStatusOK])
	assert.Equal(t, 2, obs.counts[models.LinkStatusBroken])
}

func TestProbe_FallsBackToGet(t *testing.T) {
	var methods []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		fmt.Fprint(w, "hello")
	}))
	defer srv.Close()

	res := newTestProber(Config{Timeout: time.Second}).Probe(context.Background(), srv.URL)
	assert.Equal(t, models.LinkStatusOK, res.Status)
	assert.Equal(t, 200, res.HTTPCode)
	assert.Equal(t, []string{http.MethodHead, http.MethodGet}, methods)
}

func TestProbe_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/c", http.StatusFound)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/missing", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestProber(Config{Timeout: time.Second, MaxRedirects: 5})

	res := p.Probe(context.Background(), srv.URL+"/a")
	assert.Equal(t, models.LinkStatusOK, res.Status)
	assert.Equal(t, 200, res.HTTPCode)
	assert.Equal(t, 2, res.Redirects)
	assert.True(t, res.Redirected())
	assert.Equal(t, srv.URL+"/c", res.FinalURL)

	res = p.Probe(context.Background(), srv.URL+"/gone")
	assert.Equal(t, models.LinkStatusBroken, res.Status)
	assert.Equal(t, 404, res.HTTPCode)
	assert.True(t, res.Redirected())
}

func TestProbe_RedirectLoop(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/y", http.StatusFound)
	})
	mux.HandleFunc("/y", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/x", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := newTestProber(Config{Timeout: time.Second, MaxRedirects: 10}).Probe(context.Background(), srv.URL+"/x")
	assert.Equal(t, models.LinkStatusBroken, res.Status)
	assert.Equal(t, "redirect loop", res.Err)
}

func TestProbe_TooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n int
		fmt.Sscanf(r.URL.Path, "/hop/%d", &n)
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n+1), http.StatusFound)
	}))
	defer srv.Close()

	res := newTestProber(Config{Timeout: time.Second, MaxRedirects: 2}).Probe(context.Background(), srv.URL+"/hop/0")
	assert.Equal(t, models.LinkStatusBroken, res.Status)
	assert.Equal(t, 2, res.Redirects)
	assert.Equal(t, "stopped after 2 redirects", res.Err)
}

func TestProbe_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL
	srv.Close()

	res := newTestProber(Config{Timeout: time.Second}).Probe(context.Background(), target)
	assert.Equal(t, models.LinkStatusBroken, res.Status)
	assert.Zero(t, res.HTTPCode)
	assert.NotEmpty(t, res.Err)
}

func TestProbe_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	res := newTestProber(Config{Timeout: 100 * time.Millisecond}).Probe(context.Background(), srv.URL)
	assert.Equal(t, models.LinkStatusBroken, res.Status)
	assert.Equal(t, "timeout", res.Err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProbe_InvalidURL(t *testing.T) {
	res := newTestProber(Config{}).Probe(context.Background(), "not a url")
	require.Equal(t, models.LinkStatusBroken, res.Status)
	assert.Equal(t, "invalid URL", res.Err)
}

func TestProbe_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	obs := &countingObserver{}
	p := newTestProber(Config{Timeout: time.Second})
	p.SetObserver(obs)

	res := p.Probe(ctx, srv.URL)
	assert.True(t, res.Cancelled)
	assert.Empty(t, obs.counts)
}

func TestProbe_RateLimitsPerHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := newTestProber(Config{Timeout: time.Second, RequestsPerSecond: 20})
	start := time.Now()
	for i := 0; i < 25; i++ {
		p.Probe(context.Background(), srv.URL)
	}
	// burst of 20, the remaining 5 wait roughly 50ms each
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestProbe_LimiterWaitExcludedFromTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// 8 probes at 4/s queue for about a second, well past the timeout
	p := newTestProber(Config{Timeout: 300 * time.Millisecond, RequestsPerSecond: 4})

	results := make([]Result, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Probe(context.Background(), srv.URL)
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, models.LinkStatusOK, res.Status, res.Err)
		assert.False(t, res.Cancelled)
	}
}

func TestProbe_LimiterWaitPastDeadlineIsNotBroken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := newTestProber(Config{Timeout: time.Second, RequestsPerSecond: 1})
	require.Equal(t, models.LinkStatusOK, p.Probe(context.Background(), srv.URL).Status)

	// the next token is a second away, past the caller's deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := p.Probe(ctx, srv.URL)
	assert.True(t, res.Cancelled)
	assert.Equal(t, "rate limited", res.Err)
}

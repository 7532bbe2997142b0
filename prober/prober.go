// Package prober checks whether a URL is reachable.
package prober

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"linkscan/models"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultMaxRedirects = 10

	// bytes of a GET body drained so the connection can be reused
	drainLimit = 64 * 1024
)

// errThrottled marks a probe abandoned while waiting on the host limiter.
var errThrottled = errors.New("rate limit wait abandoned")

// Result is the outcome of one probe. Every failure mode is expressed here;
// Probe never returns an error.
type Result struct {
	URL       string
	FinalURL  string
	Status    models.LinkStatus
	HTTPCode  int // 0 when no response was received
	Redirects int
	Err       string
	Duration  time.Duration
	Cancelled bool
}

func (r Result) Redirected() bool {
	return r.Redirects > 0
}

// Observer receives one call per finished probe.
type Observer interface {
	ObserveProbe(status models.LinkStatus, d time.Duration)
}

type Config struct {
	// Timeout bounds the time spent on requests for one probe, redirects
	// included. Waiting on the per-host limiter does not count.
	Timeout           time.Duration
	MaxRedirects      int
	RequestsPerSecond float64 // per host, 0 disables limiting
	UserAgent         string
}

type Prober struct {
	client   *http.Client
	cfg      Config
	logger   *zap.Logger
	observer Observer

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// New expects client not to follow redirects on its own.
func New(client *http.Client, cfg Config, logger *zap.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "linkscan/1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		client:   client,
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *Prober) SetObserver(o Observer) {
	p.observer = o
}

// Probe follows up to MaxRedirects redirects. A final status below 400 is ok;
// anything else, including loops and exhausted redirect budgets, is broken.
func (p *Prober) Probe(ctx context.Context, rawURL string) Result {
	start := time.Now()
	res := p.probe(ctx, rawURL)
	res.Duration = time.Since(start)

	if res.Status == models.LinkStatusBroken && !res.Cancelled {
		p.logger.Debug("link broken",
			zap.String("url", rawURL),
			zap.Int("http_code", res.HTTPCode),
			zap.String("error", res.Err))
	}
	if p.observer != nil && !res.Cancelled {
		p.observer.ObserveProbe(res.Status, res.Duration)
	}
	return res
}

func (p *Prober) probe(ctx context.Context, rawURL string) Result {
	res := Result{URL: rawURL, FinalURL: rawURL, Status: models.LinkStatusBroken}

	current, err := url.Parse(rawURL)
	if err != nil || !current.IsAbs() {
		res.Err = "invalid URL"
		return res
	}

	budget := p.cfg.Timeout
	visited := map[string]struct{}{current.String(): {}}
	for {
		code, location, err := p.check(ctx, current, &budget)
		if err != nil {
			res.Err = describe(err)
			res.Cancelled = errors.Is(err, context.Canceled) || errors.Is(err, errThrottled)
			return res
		}
		res.HTTPCode = code
		res.FinalURL = current.String()

		if !isRedirect(code) || location == "" {
			if code < http.StatusBadRequest {
				res.Status = models.LinkStatusOK
			}
			return res
		}

		if res.Redirects >= p.cfg.MaxRedirects {
			res.Err = fmt.Sprintf("stopped after %d redirects", res.Redirects)
			return res
		}
		next, err := current.Parse(location)
		if err != nil {
			res.Err = "invalid redirect location"
			return res
		}
		if _, loop := visited[next.String()]; loop {
			res.Err = "redirect loop"
			return res
		}
		visited[next.String()] = struct{}{}
		current = next
		res.Redirects++
	}
}

// check issues HEAD and falls back to GET when HEAD is refused.
func (p *Prober) check(ctx context.Context, u *url.URL, budget *time.Duration) (int, string, error) {
	code, location, err := p.do(ctx, http.MethodHead, u, budget)
	if err == nil && !headRejected(code) {
		return code, location, nil
	}
	if err != nil && !retryableWithGet(ctx, err) {
		return 0, "", err
	}
	return p.do(ctx, http.MethodGet, u, budget)
}

// do waits for the host limiter on the caller's context, then spends at most
// the remaining budget on the request itself.
func (p *Prober) do(ctx context.Context, method string, u *url.URL, budget *time.Duration) (int, string, error) {
	if err := p.wait(ctx, u.Host); err != nil {
		if ctx.Err() != nil {
			return 0, "", ctx.Err()
		}
		return 0, "", fmt.Errorf("%w: %v", errThrottled, err)
	}
	if *budget <= 0 {
		return 0, "", context.DeadlineExceeded
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, *budget)
	defer func() {
		cancel()
		*budget -= time.Since(start)
	}()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if method == http.MethodGet {
		io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	}
	return resp.StatusCode, resp.Header.Get("Location"), nil
}

func (p *Prober) wait(ctx context.Context, host string) error {
	if p.cfg.RequestsPerSecond <= 0 {
		return nil
	}
	host = strings.ToLower(host)

	p.limitersMu.Lock()
	lim, ok := p.limiters[host]
	if !ok {
		burst := int(p.cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(p.cfg.RequestsPerSecond), burst)
		p.limiters[host] = lim
	}
	p.limitersMu.Unlock()

	return lim.Wait(ctx)
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func headRejected(code int) bool {
	return code == http.StatusMethodNotAllowed ||
		code == http.StatusNotImplemented ||
		code == http.StatusForbidden
}

// retryableWithGet is true for transport failures that a GET may not hit,
// such as a server dropping HEAD requests. Timeouts and cancellation are final.
func retryableWithGet(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, errThrottled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}
	var dnsErr *net.DNSError
	return !errors.As(err, &dnsErr)
}

func describe(err error) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, errThrottled):
		return "rate limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &dnsErr):
		return "dns lookup failed"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "connection failed"
	}
	return err.Error()
}

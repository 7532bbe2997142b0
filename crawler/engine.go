package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"linkscan/config"
	"linkscan/extractor"
	"linkscan/metrics"
	"linkscan/models"
	"linkscan/prober"
	"linkscan/storage"
)

var ErrEngineStopped = errors.New("crawl engine is shutting down")

const (
	storeTimeout     = 10 * time.Second
	hookTimeout      = 5 * time.Minute
	appendAttempts   = 3
	appendBackoff    = 100 * time.Millisecond
	interruptedError = "interrupted"
	timedOutError    = "scan timed out"
)

// Prober checks one URL. *prober.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, rawURL string) prober.Result
}

type Options struct {
	PageWorkers      int
	ProbeWorkers     int
	MaxPages         int
	MaxLinks         int // unique links probed per scan, 0 is unlimited
	ScanTimeout      time.Duration
	ProgressInterval time.Duration
	Handler          string
	UserAgent        string
}

func (o *Options) applyDefaults() {
	if o.PageWorkers < 1 {
		o.PageWorkers = 4
	}
	if o.ProbeWorkers < 1 {
		o.ProbeWorkers = 20
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 500 * time.Millisecond
	}
	if o.Handler == "" {
		o.Handler = "auto"
	}
	if o.UserAgent == "" {
		o.UserAgent = config.DefaultUserAgent
	}
}

type StartRequest struct {
	Site           string
	IncludeMenus   bool
	IncludeWidgets bool
}

// Engine runs scans in the background, at most one per host.
type Engine struct {
	store     storage.ScanStore
	prober    Prober
	pages     *http.Client
	opts      Options
	logger    *zap.Logger
	metrics   *metrics.Metrics
	extractor *extractor.Extractor
	sites     func(host string) *config.SiteConfig
	hooks     []func(context.Context, *models.Scan)

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu    sync.Mutex
	runs  map[string]*run
	hosts map[string]string
}

type run struct {
	scan   models.Scan
	site   *url.URL
	host   string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger

	mu       sync.Mutex
	finished bool
	progress models.ScanProgress
}

func NewEngine(store storage.ScanStore, p Prober, pages *http.Client, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pages == nil {
		pages = http.DefaultClient
	}
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:      store,
		prober:     p,
		pages:      pages,
		opts:       opts,
		logger:     logger,
		extractor:  extractor.New(logger),
		sites:      func(string) *config.SiteConfig { return nil },
		baseCtx:    ctx,
		baseCancel: cancel,
		runs:       make(map[string]*run),
		hosts:      make(map[string]string),
	}
}

func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetSites installs the per-host override lookup.
func (e *Engine) SetSites(lookup func(host string) *config.SiteConfig) {
	if lookup != nil {
		e.sites = lookup
	}
}

// OnFinished registers a hook run in the background after a scan reaches a
// terminal status. Register hooks before the first Start.
func (e *Engine) OnFinished(fn func(ctx context.Context, scan *models.Scan)) {
	e.hooks = append(e.hooks, fn)
}

// Start persists a pending scan and runs it in the background.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*models.Scan, error) {
	raw := strings.TrimSpace(req.Site)
	if err := models.ValidateSiteURL(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSite, err)
	}
	site, _ := url.Parse(raw)
	site.Scheme = strings.ToLower(site.Scheme)
	site.Host = strings.ToLower(site.Host)
	site.Fragment = ""

	scan := models.Scan{
		ID:             uuid.NewString(),
		Site:           site.String(),
		Status:         models.ScanStatusPending,
		StartedAt:      time.Now().UTC(),
		IncludeMenus:   req.IncludeMenus,
		IncludeWidgets: req.IncludeWidgets,
	}

	e.mu.Lock()
	if e.baseCtx.Err() != nil {
		e.mu.Unlock()
		return nil, ErrEngineStopped
	}
	if id, busy := e.hosts[site.Host]; busy {
		e.mu.Unlock()
		e.logger.Info("scan rejected, host busy", zap.String("site", scan.Site), zap.String("running_scan", id))
		return nil, ErrScanInProgress
	}
	runCtx, cancel := context.WithCancel(e.baseCtx)
	r := &run{
		scan:   scan,
		site:   site,
		host:   site.Host,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: e.logger.With(zap.String("scan_id", scan.ID), zap.String("site", scan.Site)),
	}
	e.runs[scan.ID] = r
	e.hosts[site.Host] = scan.ID
	e.mu.Unlock()

	if err := e.store.CreateScan(ctx, &scan); err != nil {
		cancel()
		e.release(r)
		return nil, fmt.Errorf("create scan: %w", err)
	}

	e.metrics.ScanStarted()
	r.logger.Info("scan accepted",
		zap.Bool("include_menus", scan.IncludeMenus),
		zap.Bool("include_widgets", scan.IncludeWidgets))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(r)
	}()

	out := scan
	return &out, nil
}

// Cancel stops a scan. It reports false when the scan had already finished.
func (e *Engine) Cancel(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if ok {
		return e.finish(r, models.ScanStatusCancelled, ""), nil
	}

	scan, err := e.store.GetScan(ctx, id)
	if err != nil {
		return false, err
	}
	if scan.Status.IsTerminal() {
		return false, nil
	}

	// pending or running without a live run: left behind by another process
	return e.store.FinalizeScan(ctx, id, models.ScanOutcome{
		Status:     models.ScanStatusCancelled,
		FinishedAt: time.Now().UTC(),
		Progress: models.ScanProgress{
			TotalLinks:     scan.TotalLinks,
			ProcessedLinks: scan.ProcessedLinks,
			Truncated:      scan.Truncated,
			SkippedLinks:   scan.SkippedLinks,
		},
	})
}

// Progress returns live counters for a scan this engine is running.
func (e *Engine) Progress(id string) (models.ScanProgress, bool) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return models.ScanProgress{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress, true
}

// Done is closed once the scan is terminal. Scans that are not running
// return a closed channel.
func (e *Engine) Done(id string) <-chan struct{} {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if ok {
		return r.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (e *Engine) IsRunning(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[id]
	return ok
}

// Shutdown interrupts every running scan and waits for them to be finalized.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.baseCancel()
	running := len(e.runs)
	e.mu.Unlock()
	e.logger.Info("stopping crawl engine", zap.Int("running_scans", running))

	waited := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, r.scan.ID)
	if e.hosts[r.host] == r.scan.ID {
		delete(e.hosts, r.host)
	}
}

func (e *Engine) execute(r *run) {
	defer func() { <-r.done }()

	ctx, cancel := storeContext()
	started, err := e.store.MarkScanRunning(ctx, r.scan.ID)
	cancel()
	if err != nil {
		e.finish(r, models.ScanStatusFailed, fmt.Sprintf("mark running: %v", err))
		return
	}
	if !started {
		// cancelled while pending
		e.finish(r, models.ScanStatusCancelled, "")
		return
	}

	runCtx := r.ctx
	if e.opts.ScanTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(r.ctx, e.opts.ScanTimeout)
		defer cancelTimeout()
	}

	begin := time.Now()
	err = e.pipeline(runCtx, r)

	switch {
	case r.isFinished():
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && r.ctx.Err() == nil:
		e.finish(r, models.ScanStatusFailed, timedOutError)
	case e.baseCtx.Err() != nil:
		e.finish(r, models.ScanStatusFailed, interruptedError)
	case err != nil:
		e.finish(r, models.ScanStatusFailed, err.Error())
	default:
		e.finish(r, models.ScanStatusCompleted, "")
	}
	r.logger.Debug("scan pipeline exited", zap.Duration("elapsed", time.Since(begin)), zap.Error(err))
}

func (r *run) isFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// finish moves the run to a terminal status exactly once. Progress is
// frozen before the store is updated.
func (e *Engine) finish(r *run, status models.ScanStatus, msg string) bool {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return false
	}
	r.finished = true
	progress := r.progress
	r.mu.Unlock()

	r.cancel()

	ctx, cancel := storeContext()
	defer cancel()
	changed, err := e.store.FinalizeScan(ctx, r.scan.ID, models.ScanOutcome{
		Status:     status,
		FinishedAt: time.Now().UTC(),
		Error:      msg,
		Progress:   progress,
	})
	if err != nil {
		r.logger.Error("finalize scan", zap.String("status", string(status)), zap.Error(err))
	}

	e.metrics.ScanFinished(status)
	e.release(r)

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("total_links", progress.TotalLinks),
		zap.Int("processed_links", progress.ProcessedLinks),
	}
	if msg != "" {
		fields = append(fields, zap.String("error", msg))
	}
	r.logger.Info("scan finished", fields...)

	if changed && len(e.hooks) > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runHooks(r)
		}()
	}
	close(r.done)
	return true
}

func (e *Engine) runHooks(r *run) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	scan, err := e.store.GetScan(ctx, r.scan.ID)
	if err != nil {
		r.logger.Error("load finished scan for hooks", zap.Error(err))
		return
	}
	for _, hook := range e.hooks {
		hook(ctx, scan)
	}
}

func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

// pipeline wires enumerate -> extract -> aggregate -> probe. The aggregator
// owns every per-URL decision, so workers share no state.
func (e *Engine) pipeline(ctx context.Context, r *run) error {
	siteCfg := e.sites(r.host)
	inv := Inventory{
		Site:           r.site,
		IncludeMenus:   r.scan.IncludeMenus,
		IncludeWidgets: r.scan.IncludeWidgets,
		MaxPages:       e.opts.MaxPages,
	}
	maxLinks := e.opts.MaxLinks
	if siteCfg != nil {
		if siteCfg.MaxPages > 0 {
			inv.MaxPages = siteCfg.MaxPages
		}
		if siteCfg.MaxLinks > 0 {
			maxLinks = siteCfg.MaxLinks
		}
	}
	handler := NewHandler(e.opts.Handler, e.pages, e.opts.UserAgent, siteCfg, r.logger)
	r.logger.Info("scan running", zap.String("handler", handler.Name()), zap.Int("max_pages", inv.MaxPages))

	targets := make(chan Target, e.opts.PageWorkers)
	discoveries := make(chan extractor.Link, 256)
	jobs := make(chan string)
	results := make(chan prober.Result, e.opts.ProbeWorkers)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(targets)
		emit := func(t Target) error {
			select {
			case targets <- t:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return handler.Enumerate(ctx, inv, emit)
	})

	g.Go(func() error {
		defer close(discoveries)
		pg, pctx := errgroup.WithContext(ctx)
		for i := 0; i < e.opts.PageWorkers; i++ {
			pg.Go(func() error {
				for t := range targets {
					for _, l := range e.extract(r, t) {
						select {
						case discoveries <- l:
						case <-pctx.Done():
							return pctx.Err()
						}
					}
				}
				return nil
			})
		}
		return pg.Wait()
	})

	g.Go(func() error {
		return e.aggregate(ctx, r, maxLinks, discoveries, jobs, results)
	})

	for i := 0; i < e.opts.ProbeWorkers; i++ {
		g.Go(func() error {
			for u := range jobs {
				res := e.prober.Probe(ctx, u)
				select {
				case results <- res:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	return g.Wait()
}

func (e *Engine) extract(r *run, t Target) []extractor.Link {
	switch t.Kind {
	case TargetMenu:
		if !r.scan.IncludeMenus {
			return nil
		}
	case TargetWidget:
		if !r.scan.IncludeWidgets {
			return nil
		}
	}

	base, err := url.Parse(t.BaseURL)
	if err != nil || !base.IsAbs() {
		base = siteRoot(r.site)
	}

	var links []extractor.Link
	if len(t.Links) > 0 {
		links = e.extractor.Resolve(base, t.Links, r.host, t.Source)
	}
	if t.HTML != "" {
		found, err := e.extractor.Extract(base.String(), strings.NewReader(t.HTML), r.host, t.Source,
			extractor.Options{Exclude: t.Exclude})
		if err != nil {
			r.logger.Warn("extract links", zap.String("source", t.Source), zap.Error(err))
		}
		links = append(links, found...)
	}
	return links
}

type linkEntry struct {
	linkType models.LinkType
	sources  []string
	recorded bool
	skipped  bool
}

func (l *linkEntry) hasSource(src string) bool {
	for _, s := range l.sources {
		if s == src {
			return true
		}
	}
	return false
}

// aggregate dedupes discoveries by URL, feeds new URLs to the probe workers
// and records their results. It closes jobs once nothing is left to probe.
func (e *Engine) aggregate(ctx context.Context, r *run, maxLinks int,
	discoveries <-chan extractor.Link, jobs chan<- string, results <-chan prober.Result) error {
	defer close(jobs)

	seen := make(map[string]*linkEntry)
	var pending []string
	inflight := 0
	disc := discoveries
	dirty := false

	ticker := time.NewTicker(e.opts.ProgressInterval)
	defer ticker.Stop()

	for {
		if disc == nil && len(pending) == 0 && inflight == 0 {
			return nil
		}

		var out chan<- string
		var next string
		if len(pending) > 0 {
			out = jobs
			next = pending[0]
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case l, ok := <-disc:
			if !ok {
				disc = nil
				continue
			}
			entry, known := seen[l.URL]
			if !known {
				r.mu.Lock()
				if maxLinks > 0 && r.progress.TotalLinks >= maxLinks {
					r.progress.Truncated = true
					r.progress.SkippedLinks++
					r.mu.Unlock()
					seen[l.URL] = &linkEntry{skipped: true}
					dirty = true
					continue
				}
				r.progress.TotalLinks++
				r.mu.Unlock()
				seen[l.URL] = &linkEntry{linkType: l.Type, sources: []string{l.Source}}
				pending = append(pending, l.URL)
				dirty = true
				continue
			}
			if entry.skipped || entry.hasSource(l.Source) {
				continue
			}
			entry.sources = append(entry.sources, l.Source)
			if entry.recorded {
				if err := e.addSource(r, l.URL, l.Source); err != nil {
					return err
				}
			}

		case out <- next:
			pending = pending[1:]
			inflight++

		case res := <-results:
			inflight--
			if res.Cancelled {
				continue
			}
			entry := seen[res.URL]
			if err := e.record(r, entry, res); err != nil {
				return err
			}
			entry.recorded = true
			dirty = true

		case <-ticker.C:
			if dirty {
				e.flushProgress(r)
				dirty = false
			}
		}
	}
}

// record persists one probed link. It is a no-op once the run is finished,
// which freezes the processed count.
func (e *Engine) record(r *run, entry *linkEntry, res prober.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}

	link := &models.ScanLink{
		ScanID:     r.scan.ID,
		URL:        res.URL,
		Type:       entry.linkType,
		Status:     res.Status,
		Redirected: res.Redirected(),
		Error:      res.Err,
		CheckedAt:  time.Now().UTC(),
		Sources:    append([]string(nil), entry.sources...),
	}
	if res.HTTPCode > 0 {
		code := res.HTTPCode
		link.HTTPCode = &code
	}
	if link.Redirected {
		link.FinalURL = res.FinalURL
	}

	if err := e.appendLink(r, link); err != nil {
		return fmt.Errorf("record %s: %w", res.URL, err)
	}
	r.progress.ProcessedLinks++
	return nil
}

func (e *Engine) appendLink(r *run, link *models.ScanLink) error {
	backoff := appendBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := storeContext()
		err := e.store.AppendLink(ctx, link)
		cancel()
		if err == nil || attempt == appendAttempts ||
			errors.Is(err, storage.ErrScanClosed) || errors.Is(err, storage.ErrNotFound) {
			return err
		}
		r.logger.Warn("append link failed, retrying",
			zap.String("url", link.URL), zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(backoff)
		backoff *= 2
	}
}

func (e *Engine) addSource(r *run, rawURL, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	ctx, cancel := storeContext()
	defer cancel()
	if err := e.store.AddLinkSource(ctx, r.scan.ID, rawURL, source); err != nil {
		return fmt.Errorf("add source for %s: %w", rawURL, err)
	}
	return nil
}

func (e *Engine) flushProgress(r *run) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	p := r.progress
	r.mu.Unlock()

	ctx, cancel := storeContext()
	defer cancel()
	if err := e.store.UpdateScanProgress(ctx, r.scan.ID, p); err != nil {
		r.logger.Warn("persist progress", zap.Error(err))
	}
}

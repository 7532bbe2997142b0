package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"
	"time"

	"linkscan/models"
	"linkscan/storage"
)

var ErrUnsupportedFormat = errors.New("unsupported report format")

// Report is everything a renderer needs: the scan with its final stats and
// every link in grouped form, broken links first.
type Report struct {
	Scan        models.Scan       `json:"scan"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Links       []models.ScanLink `json:"links"`
}

// ReportRenderer turns a report into one output format. PDF rendering is
// plugged in through this interface.
type ReportRenderer interface {
	ContentType() string
	Extension() string
	Render(w io.Writer, r *Report) error
}

// ReportService assembles reports from the scan store.
type ReportService struct {
	store     storage.ScanStore
	renderers map[string]ReportRenderer
	formats   map[string]string
}

func NewReportService(store storage.ScanStore) *ReportService {
	s := &ReportService{
		store:     store,
		renderers: make(map[string]ReportRenderer),
		formats:   make(map[string]string),
	}
	s.Register("json", JSONRenderer{})
	s.Register("csv", CSVRenderer{})
	return s
}

// Register adds or replaces the renderer for a format name such as "pdf".
func (s *ReportService) Register(format string, r ReportRenderer) {
	s.renderers[r.ContentType()] = r
	s.formats[strings.ToLower(format)] = r.ContentType()
}

// Renderer picks a renderer from an explicit format name, else from an
// Accept header. Neither given means JSON.
func (s *ReportService) Renderer(format, accept string) (ReportRenderer, error) {
	if format != "" {
		ct, ok := s.formats[strings.ToLower(format)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
		}
		return s.renderers[ct], nil
	}
	if strings.TrimSpace(accept) == "" {
		return s.renderers["application/json"], nil
	}
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mt {
		case "*/*", "application/*":
			return s.renderers["application/json"], nil
		}
		if r, ok := s.renderers[mt]; ok {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, accept)
}

// Build loads the scan and all of its links.
func (s *ReportService) Build(ctx context.Context, scanID string) (*Report, error) {
	scan, err := s.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, err
	}

	report := &Report{Scan: *scan, GeneratedAt: time.Now().UTC(), Links: []models.ScanLink{}}
	q := models.LinkQuery{Grouped: true, SortBy: "status", SortDir: models.SortAsc, PerPage: models.MaxPerPage}
	q.Normalize()
	for {
		links, total, err := s.store.ListLinks(ctx, scanID, q)
		if err != nil {
			return nil, fmt.Errorf("list links: %w", err)
		}
		report.Links = append(report.Links, links...)
		if len(links) == 0 || len(report.Links) >= total {
			break
		}
		q.Page++
	}
	return report, nil
}

type JSONRenderer struct{}

func (JSONRenderer) ContentType() string { return "application/json" }
func (JSONRenderer) Extension() string   { return "json" }

func (JSONRenderer) Render(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// CSVRenderer writes one row per link. Sources are joined with " | ".
type CSVRenderer struct{}

func (CSVRenderer) ContentType() string { return "text/csv" }
func (CSVRenderer) Extension() string   { return "csv" }

func (CSVRenderer) Render(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"url", "type", "status", "http_code", "redirected", "final_url", "error", "source_count", "sources"}); err != nil {
		return err
	}
	for _, l := range r.Links {
		code := ""
		if l.HTTPCode != nil {
			code = strconv.Itoa(*l.HTTPCode)
		}
		row := []string{
			l.URL,
			string(l.Type),
			string(l.Status),
			code,
			strconv.FormatBool(l.Redirected),
			l.FinalURL,
			l.Error,
			strconv.Itoa(l.SourceCount),
			strings.Join(l.Sources, " | "),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

package connector

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resilience"
	"github.com/sells-group/venue-fusion/pkg/jina"
)

const (
	webConfidence    = 0.5
	webMaxResults    = 3
	webMinContentLen = 200
)

// WebSearch turns web search results into loosely extracted records. Pages
// with too little content are read in full; pages that look like anti-bot
// challenges are skipped.
type WebSearch struct {
	base
	client     jina.Client
	maxResults int
	readPages  bool
}

// WebOption configures a WebSearch connector.
type WebOption func(*WebSearch)

// WithMaxResults limits how many search results are converted.
func WithMaxResults(n int) WebOption {
	return func(w *WebSearch) {
		if n > 0 {
			w.maxResults = n
		}
	}
}

// WithPageReads toggles full page reads for thin search snippets.
func WithPageReads(on bool) WebOption {
	return func(w *WebSearch) {
		w.readPages = on
	}
}

// NewWebSearch creates a web search connector.
func NewWebSearch(client jina.Client, webOpts []WebOption, opts ...Option) *WebSearch {
	w := &WebSearch{
		base:       newBase(IDWebSearch, opts),
		client:     client,
		maxResults: webMaxResults,
		readPages:  true,
	}
	for _, o := range webOpts {
		o(w)
	}
	return w
}

// Search queries the web and extracts one record per usable result. When
// every result is blocked the call fails with a crawl_blocked error.
func (w *WebSearch) Search(ctx context.Context, query string) ([]model.SourceRecord, error) {
	resp, err := w.client.Search(ctx, query, jina.WithLocale("KR", "ko"), jina.WithCount(w.maxResults))
	if err != nil {
		return nil, eris.Wrapf(err, "web_search: search %q", query)
	}

	results := resp.Data
	if len(results) > w.maxResults {
		results = results[:w.maxResults]
	}

	var (
		out     []model.SourceRecord
		blocked int
	)
	for _, r := range results {
		content := r.Content
		if w.readPages && len(strings.TrimSpace(content)) < webMinContentLen && r.URL != "" {
			page, err := w.client.Read(ctx, r.URL)
			if err != nil {
				zap.L().Debug("web_search: page read failed",
					zap.String("url", r.URL),
					zap.Error(err),
				)
			} else if page != nil {
				content = page.Data.Content
			}
		}
		if ok, kind := DetectBlock(content); ok {
			blocked++
			zap.L().Debug("web_search: blocked page",
				zap.String("url", r.URL),
				zap.String("block_type", string(kind)),
			)
			continue
		}
		if rec, ok := w.extract(query, r, content); ok {
			out = append(out, rec)
		}
	}

	if len(results) > 0 && blocked == len(results) {
		return nil, resilience.NewConnectorError(w.id, resilience.TypeCrawlBlocked,
			eris.Errorf("all %d results blocked for %q", blocked, query))
	}
	return out, nil
}

func (w *WebSearch) extract(query string, r jina.SearchResult, content string) (model.SourceRecord, bool) {
	name := titleName(r.Title)
	if name == "" {
		return model.SourceRecord{}, false
	}
	text := r.Description + "\n" + content
	rec := model.SourceRecord{
		Venue: model.Venue{
			Name:    name,
			Address: ExtractAddress(text),
			Phone:   ExtractPhone(text),
			Price:   ExtractPrice(text),
		},
		Source:         w.id,
		Confidence:     matchConfidence(webConfidence, query, name),
		AdditionalInfo: map[string]string{"url": r.URL},
		FetchedAt:      nowFunc(),
	}
	if open, closing, ok := ExtractHours(text); ok {
		rec.OpenHour, rec.CloseHour = open, closing
	}
	InferFacilities(text, &rec.Venue)
	return rec, true
}

// titleName drops the site suffix from a page title ("X : 네이버 블로그").
func titleName(title string) string {
	for _, sep := range []string{" | ", " - ", " : ", " :: "} {
		if i := strings.Index(title, sep); i > 0 {
			title = title[:i]
		}
	}
	return strings.TrimSpace(title)
}

// Package search implements web search over the DuckDuckGo HTML endpoint
// with optional summarization of the results by the chat router.
package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Defaults.
const (
	DefaultEndpoint   = "https://html.duckduckgo.com/html/"
	DefaultMaxResults = 5
	DefaultTimeout    = 10 * time.Second

	maxContentLines = 50
	maxContentChars = 2000
	maxPromptChars  = 500
	fetchLimit      = 3
	userAgent       = "Mozilla/5.0 (compatible; NitroSearch/1.0)"
)

// Result statuses.
const (
	StatusSuccess   = "success"
	StatusNoResults = "no_results"
	StatusError     = "error"
)

// NotSummarized is the summary text when no summarizer ran.
const NotSummarized = "Summary not generated (AI not configured)"

// Summarizer turns a prompt into a summary. The chat router satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Source is one search hit.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Content is the cleaned text of a fetched result page.
type Content struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Result is the answer of POST /search.
type Result struct {
	Status      string    `json:"status"`
	Query       string    `json:"query"`
	Message     string    `json:"message,omitempty"`
	Error       string    `json:"error,omitempty"`
	Sources     []Source  `json:"sources,omitempty"`
	RawContent  []Content `json:"raw_content,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	AIGenerated bool      `json:"ai_generated"`
	Timestamp   string    `json:"timestamp,omitempty"`
}

// Options configures a Searcher.
type Options struct {
	Endpoint   string
	MaxResults int
	Timeout    time.Duration
	// FetchPages downloads each result page for richer summaries.
	FetchPages bool
	HTTPClient *http.Client
}

// Searcher runs web searches.
type Searcher struct {
	endpoint   string
	maxResults int
	fetchPages bool
	client     *http.Client
	summarizer Summarizer
	now        func() time.Time
}

// New creates a Searcher. summarizer may be nil.
func New(opts Options, summarizer Summarizer) *Searcher {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Searcher{
		endpoint:   opts.Endpoint,
		maxResults: opts.MaxResults,
		fetchPages: opts.FetchPages,
		client:     client,
		summarizer: summarizer,
		now:        time.Now,
	}
}

// Search queries the endpoint and, when summarize is set and a summarizer
// is configured, asks it to answer the query from the results. Failures
// are reported in the result, never as a Go error.
func (s *Searcher) Search(ctx context.Context, query string, summarize bool) Result {
	query = strings.TrimSpace(query)
	log.Info().Str("query", query).Msg("web search")

	sources, err := s.query(ctx, query)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("search failed")
		return Result{Status: StatusError, Query: query, Error: err.Error()}
	}
	if len(sources) == 0 {
		return Result{Status: StatusNoResults, Query: query, Message: "No search results found"}
	}
	if len(sources) > s.maxResults {
		sources = sources[:s.maxResults]
	}

	res := Result{
		Status:    StatusSuccess,
		Query:     query,
		Sources:   sources,
		Summary:   NotSummarized,
		Timestamp: s.now().Format("2006-01-02T15:04:05.000000"),
	}
	if s.fetchPages {
		res.RawContent = s.fetchContents(ctx, sources)
	}

	if summarize && s.summarizer != nil {
		summary, err := s.summarizer.Summarize(ctx, buildPrompt(query, sources, res.RawContent))
		if err != nil {
			log.Warn().Err(err).Msg("search summary failed")
			res.Summary = fmt.Sprintf("Error generating summary: %v", err)
		} else {
			res.Summary = summary
			res.AIGenerated = true
		}
	}

	log.Info().Str("query", query).Int("results", len(sources)).Msg("search completed")
	return res
}

func (s *Searcher) query(ctx context.Context, query string) ([]Source, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "build search request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "search request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, errors.Errorf("search endpoint returned status %d", resp.StatusCode)
	}

	return ParseResults(resp.Body)
}

// ParseResults extracts hits from a DuckDuckGo HTML result page.
func ParseResults(r io.Reader) ([]Source, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "parse search results")
	}

	var out []Source
	doc.Find("div.result").Each(func(_ int, sel *goquery.Selection) {
		title := sel.Find("a.result__a").First()
		if title.Length() == 0 {
			return
		}
		href, _ := title.Attr("href")
		out = append(out, Source{
			Title:   strings.TrimSpace(title.Text()),
			URL:     resolveRedirect(href),
			Snippet: strings.TrimSpace(sel.Find("a.result__snippet").First().Text()),
		})
	})
	return out, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func (s *Searcher) fetchContents(ctx context.Context, sources []Source) []Content {
	contents := make([]*Content, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchLimit)
	for i, src := range sources {
		if !strings.HasPrefix(src.URL, "http") {
			continue
		}
		i, src := i, src
		g.Go(func() error {
			text, err := s.fetchPage(gctx, src.URL)
			if err != nil {
				log.Warn().Err(err).Str("url", src.URL).Msg("page extraction failed")
				return nil
			}
			contents[i] = &Content{URL: src.URL, Title: src.Title, Content: text}
			return nil
		})
	}
	_ = g.Wait()

	var out []Content
	for _, c := range contents {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

func (s *Searcher) fetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}
	return extractText(doc), nil
}

// extractText returns the first lines of visible text on the page.
func extractText(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
			if len(lines) == maxContentLines {
				break
			}
		}
	}
	text := strings.Join(lines, "\n")
	if r := []rune(text); len(r) > maxContentChars {
		text = string(r[:maxContentChars])
	}
	return text
}

func buildPrompt(query string, sources []Source, contents []Content) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nInformation from web sources:\n\n", query)

	if len(contents) > 0 {
		for i, c := range contents {
			fmt.Fprintf(&b, "[%d] %s\n%s...\n\n", i+1, c.Title, clip(c.Content, maxPromptChars))
		}
	} else {
		for i, src := range sources {
			fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, src.Title, src.Snippet)
		}
	}

	fmt.Fprintf(&b, "Based on the above information from multiple web sources, provide a clear answer to the question: %q\n", query)
	b.WriteString("Give a direct answer, the key facts, and reference the sources using [1], [2], etc.\n\nAnswer:")
	return b.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

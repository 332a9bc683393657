package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"

// ─── web_search ────────────────────────────────────────────────────

// WebSearchTool queries the Brave web search API.
type WebSearchTool struct {
	apiKey     string
	maxResults int
	client     *http.Client
}

func NewWebSearchTool(apiKey string, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{
		apiKey:     apiKey,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web and return titles, URLs and snippets for the top results."
}

func (t *WebSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query"},
			"count": {"type": "integer", "description": "Number of results (default 5)"}
		},
		"required": ["query"]
	}`)
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "Error: query must not be empty", nil
	}
	if t.apiKey == "" {
		return "Error: web search is not configured (missing API key)", nil
	}

	count := t.maxResults
	if c, ok := args["count"].(float64); ok && int(c) > 0 {
		count = int(c)
	}

	reqURL := fmt.Sprintf("%s?q=%s&count=%d", braveSearchEndpoint, url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error: search request failed: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Sprintf("Error: read search response: %v", err), nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: search API returned HTTP %d", resp.StatusCode), nil
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Sprintf("Error: parse search response: %v", err), nil
	}
	if len(parsed.Web.Results) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, r := range parsed.Web.Results {
		if i >= count {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, stripHTMLTags(r.Description))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// ─── web_fetch ─────────────────────────────────────────────────────

// WebFetchTool downloads a page and extracts its readable content.
type WebFetchTool struct {
	client   *http.Client
	maxChars int
}

func NewWebFetchTool(maxChars int) *WebFetchTool {
	if maxChars <= 0 {
		maxChars = 20000
	}
	return &WebFetchTool{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxChars: maxChars,
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its main content as markdown-ish text."
}

func (t *WebFetchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "URL to fetch"}
		},
		"required": ["url"]
	}`)
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL, _ := args["url"].(string)
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "Error: url must be an absolute http(s) URL", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; blackcat/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error: fetch failed: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: HTTP %d fetching %s", resp.StatusCode, rawURL), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Sprintf("Error: read body: %v", err), nil
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "html") {
		text := strings.TrimSpace(string(body))
		return truncateChars(text, t.maxChars), nil
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		// Readability failing on messy markup falls back to tag stripping.
		return truncateChars(stripHTMLTags(string(body)), t.maxChars), nil
	}

	var b strings.Builder
	if article.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", article.Title)
	}
	b.WriteString(htmlToMarkdown(article.Content))
	return truncateChars(strings.TrimSpace(b.String()), t.maxChars), nil
}

// ─── HTML helpers ──────────────────────────────────────────────────

var (
	tagPattern      = regexp.MustCompile(`(?s)<[^>]*>`)
	blankPattern    = regexp.MustCompile(`\n{3,}`)
	anchorPattern   = regexp.MustCompile(`(?is)<a[^>]*href="([^"]+)"[^>]*>(.*?)</a>`)
	headingPattern  = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	listItemPattern = regexp.MustCompile(`(?is)<li[^>]*>`)
	breakPattern    = regexp.MustCompile(`(?i)<(?:br|/p|/div|/tr)[^>]*>`)
)

// htmlToMarkdown converts a small subset of HTML to markdown text. It is
// lossy on purpose: the output feeds an LLM, not a renderer.
func htmlToMarkdown(html string) string {
	s := headingPattern.ReplaceAllStringFunc(html, func(m string) string {
		parts := headingPattern.FindStringSubmatch(m)
		level := int(parts[1][0] - '0')
		return "\n" + strings.Repeat("#", level) + " " + parts[2] + "\n"
	})
	s = anchorPattern.ReplaceAllString(s, "[$2]($1)")
	s = listItemPattern.ReplaceAllString(s, "\n- ")
	s = breakPattern.ReplaceAllString(s, "\n")
	s = stripHTMLTags(s)
	s = blankPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// stripHTMLTags removes tags and decodes the handful of entities that matter.
func stripHTMLTags(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	return strings.TrimSpace(replacer.Replace(s))
}

func truncateChars(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (content truncated)"
}

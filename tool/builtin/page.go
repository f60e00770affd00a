package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/stallwart/switchboard/tool"
)

const (
	defaultPageTimeout  = 15 * time.Second
	defaultPageMaxBytes = 2 << 20 // 2 MiB
	defaultPageMaxChars = 8000
)

// PageOption configures the page snapshot tool.
type PageOption func(*pageConfig)

type pageConfig struct {
	client   *http.Client
	maxBytes int64
	maxChars int
}

// WithPageHTTPClient overrides the HTTP client used for fetching.
func WithPageHTTPClient(client *http.Client) PageOption {
	return func(cfg *pageConfig) {
		if client != nil {
			cfg.client = client
		}
	}
}

// WithPageMaxBytes caps how many response bytes are read.
func WithPageMaxBytes(n int64) PageOption {
	return func(cfg *pageConfig) {
		if n > 0 {
			cfg.maxBytes = n
		}
	}
}

// WithPageMaxChars caps the length of the extracted text.
func WithPageMaxChars(n int) PageOption {
	return func(cfg *pageConfig) {
		if n > 0 {
			cfg.maxChars = n
		}
	}
}

// PageSnapshot returns a tool that fetches a web page and reduces it to
// readable text: title, headings, paragraphs, lists, code and tables.
func PageSnapshot(opts ...PageOption) *tool.Tool {
	cfg := pageConfig{
		client:   &http.Client{Timeout: defaultPageTimeout},
		maxBytes: defaultPageMaxBytes,
		maxChars: defaultPageMaxChars,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &tool.Tool{
		Name:        "fetch_page",
		Description: "Fetch a web page and return its readable text content",
		Parameters: []tool.Parameter{
			{Name: "url", Type: "string", Description: "Absolute http(s) URL of the page", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			raw, _ := args["url"].(string)
			target, err := url.Parse(strings.TrimSpace(raw))
			if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
				return "", fmt.Errorf("url must be an absolute http(s) address")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
			if err != nil {
				return "", err
			}

			resp, err := cfg.client.Do(req)
			if err != nil {
				return "", fmt.Errorf("fetch %s: %w", target.Host, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("fetch %s: status %d", target.Host, resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, cfg.maxBytes))
			if err != nil {
				return "", fmt.Errorf("read %s: %w", target.Host, err)
			}

			text, err := extractText(string(body))
			if err != nil {
				return "", fmt.Errorf("parse %s: %w", target.Host, err)
			}
			if len(text) > cfg.maxChars {
				text = text[:cfg.maxChars] + "\n\n[truncated]"
			}
			return text, nil
		},
	}
}

// extractText keeps headings, paragraphs, lists, code blocks and tables,
// dropping scripts, styles and boilerplate.
func extractText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script,style,noscript,nav,footer").Remove()

	var out []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		out = append(out, "# "+title)
	}

	doc.Find("h1,h2,h3,h4,p,li,pre,table").Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "h1":
			out = append(out, "# "+strings.TrimSpace(s.Text()))
		case "h2":
			out = append(out, "## "+strings.TrimSpace(s.Text()))
		case "h3", "h4":
			out = append(out, "### "+strings.TrimSpace(s.Text()))
		case "p":
			if text := strings.TrimSpace(s.Text()); text != "" {
				out = append(out, text)
			}
		case "li":
			out = append(out, "- "+strings.TrimSpace(s.Text()))
		case "pre":
			out = append(out, "```\n"+strings.TrimSpace(s.Text())+"\n```")
		case "table":
			if rows := tableRows(s); rows != "" {
				out = append(out, rows)
			}
		}
	})

	return collapseBlank(strings.Join(out, "\n\n")), nil
}

func tableRows(sel *goquery.Selection) string {
	var rows []string
	sel.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cols []string
		tr.Find("th,td").Each(func(_ int, td *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(td.Text()))
		})
		if len(cols) > 0 {
			rows = append(rows, "| "+strings.Join(cols, " | ")+" |")
		}
	})
	return strings.Join(rows, "\n")
}

var reBlankRuns = regexp.MustCompile(`\n{3,}`)

func collapseBlank(s string) string {
	return strings.TrimSpace(reBlankRuns.ReplaceAllString(s, "\n\n"))
}

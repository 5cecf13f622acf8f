// Package linkpreview builds link previews from a page's OpenGraph tags.
package linkpreview

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GladstoneOG/wabot/internal/transport"
)

const (
	maxPageBytes  = 512 << 10
	maxThumbBytes = 96 << 10
)

var (
	urlPattern    = regexp.MustCompile(`(?i)https?://\S+`)
	trailingPunct = regexp.MustCompile(`[)\]}>,.?!]+$`)
)

// FirstURL returns the first http(s) URL in text with trailing punctuation
// removed, or "" when there is none.
func FirstURL(text string) string {
	m := urlPattern.FindString(text)
	if m == "" {
		return ""
	}
	return trailingPunct.ReplaceAllString(m, "")
}

type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; wabot-linkpreview/1.0)"
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

// Fetch downloads url and extracts a preview. A JPEG og:image small enough
// to embed becomes the thumbnail; any other image is ignored.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*transport.Preview, error) {
	body, ctype, err := f.get(ctx, url, maxPageBytes, true)
	if err != nil {
		return nil, err
	}
	if mt, _, _ := mime.ParseMediaType(ctype); mt != "" && mt != "text/html" && mt != "application/xhtml+xml" {
		return nil, fmt.Errorf("linkpreview: %s is %s, not html", url, mt)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("linkpreview: parse %s: %w", url, err)
	}
	m := extract(doc)

	p := &transport.Preview{
		URL:         url,
		Title:       firstNonEmpty(m.ogTitle, m.title),
		Description: firstNonEmpty(m.ogDescription, m.description),
	}
	if p.Title == "" {
		p.Title = url
	}
	if m.ogImage != "" {
		if img, ct, err := f.get(ctx, m.ogImage, maxThumbBytes, false); err == nil && strings.HasPrefix(ct, "image/jpeg") {
			p.Thumbnail = img
		}
	}
	return p, nil
}

// get reads at most limit bytes of url. Longer bodies are cut when truncate
// is set and rejected otherwise.
func (f *Fetcher) get(ctx context.Context, url string, limit int64, truncate bool) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("linkpreview: GET %s: status %d", url, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(b)) > limit {
		if !truncate {
			return nil, "", fmt.Errorf("linkpreview: %s exceeds %d bytes", url, limit)
		}
		b = b[:limit]
	}
	return b, resp.Header.Get("Content-Type"), nil
}

type meta struct {
	title         string
	description   string
	ogTitle       string
	ogDescription string
	ogImage       string
}

func extract(doc *html.Node) meta {
	var m meta
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if m.title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					m.title = strings.TrimSpace(n.FirstChild.Data)
				}
			case atom.Meta:
				key := strings.ToLower(firstNonEmpty(attr(n, "property"), attr(n, "name")))
				val := strings.TrimSpace(attr(n, "content"))
				switch key {
				case "og:title":
					m.ogTitle = val
				case "og:description":
					m.ogDescription = val
				case "og:image":
					m.ogImage = val
				case "description":
					m.description = val
				}
			case atom.Body:
				// metadata lives in head
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return m
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

package extractor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Elements that never carry article text.
const boilerplateSelectors = "script,style,nav,footer,header,aside,form,svg,iframe,noscript"

var (
	// Single-letter tags must hug the bracket so prose comparisons like
	// "a < b" do not sniff as markup.
	htmlTagPattern = regexp.MustCompile(`(?i)(?:<\s*(?:!doctype|html|head|body|div|span|br|img|table|article|section|h[1-6]|ul|ol|li|em|strong|blockquote|pre|figure)\b|<(?:p|a|b|i)\b)`)

	// class/id fragments that mark ads, chrome and other junk containers.
	junkAttrPattern = regexp.MustCompile(`(?i)(?:^|[\s_-])(?:ad|ads|advert\w*|sidebar|comment\w*|newsletter|promo|social|share|related|cookie|popup)(?:$|[\s_-])`)

	whitespacePattern = regexp.MustCompile(`\s+`)
	slugSepPattern    = regexp.MustCompile(`[-_]+`)
)

// LooksLikeHTML sniffs whether raw content is markup rather than plain text.
func LooksLikeHTML(s string) bool {
	return htmlTagPattern.MatchString(s)
}

// HTMLToText converts a page to whitespace-collapsed plain text. Boilerplate
// elements and containers whose class or id matches ad/sidebar/comment
// patterns are dropped before stripping tags. Output longer than maxChars is
// truncated with an ellipsis marker.
func HTMLToText(html string, maxChars int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// Not parseable as HTML; treat as text.
		return truncate(collapseWhitespace(html), maxChars)
	}

	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}

	sel.Find(boilerplateSelectors).Remove()
	sel.Find("[class],[id]").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		if junkAttrPattern.MatchString(class) || junkAttrPattern.MatchString(id) {
			s.Remove()
		}
	})

	return truncate(collapseWhitespace(sel.Text()), maxChars)
}

// HTMLTitle picks a title from the page: og:title meta, then <title>, then
// the first <h1>, then a humanized segment of the URL path.
func HTMLTitle(html, pageURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
			if t := strings.TrimSpace(og); t != "" {
				return t
			}
		}
		if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
			return t
		}
		if t := strings.TrimSpace(doc.Find("h1").First().Text()); t != "" {
			return collapseWhitespace(t)
		}
	}
	return humanizeURL(pageURL)
}

// humanizeURL turns the last meaningful path segment of a URL into a
// readable title, e.g. "/posts/why-go-is-fast.html" -> "why go is fast".
func humanizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if seg == "" {
			continue
		}
		if dot := strings.LastIndex(seg, "."); dot > 0 {
			seg = seg[:dot]
		}
		seg = strings.TrimSpace(slugSepPattern.ReplaceAllString(seg, " "))
		if seg != "" {
			return seg
		}
	}

	return u.Hostname()
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "…"
}

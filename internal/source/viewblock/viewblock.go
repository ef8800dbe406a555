// Package viewblock scrapes explorer transaction tables. Explorer markup
// truncates hashes and addresses in cell text but keeps full values in
// title attributes and link targets, so each row is emitted with its
// attribute values alongside the flattened cell text and the extractor
// decides what is recoverable. The explorer offers no stable ordering key,
// so the cursor never advances and the dedup layer absorbs re-scrapes.
package viewblock

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/fetch"
	"affwatch/internal/source"
)

type rowData struct {
	titles []string
	attrs  []string
	addrs  []string
	text   string
	html   string
}

// Source scrapes an explorer transaction table.
type Source struct {
	name      string
	url       string
	maxPages  int
	pageDelay time.Duration
	client    *fetch.Client
	logger    *slog.Logger
}

// New creates an explorer table source.
func New(opts source.Options, client *fetch.Client, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	return &Source{
		name:      opts.Name,
		url:       opts.URL,
		maxPages:  opts.MaxPages,
		pageDelay: opts.PageDelay,
		client:    client,
		logger:    logger,
	}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Protocol() domain.Protocol { return domain.ProtocolViewBlock }

// Poll scrapes table rows, following next links up to the page budget.
func (s *Source) Poll(ctx context.Context, position string, emit source.EmitFunc) (string, error) {
	pageURL := s.url

	for page := 0; page < s.maxPages && pageURL != ""; page++ {
		body, err := s.client.Get(ctx, pageURL)
		if err != nil {
			return position, err
		}
		doc, err := html.Parse(bytes.NewReader(body))
		if err != nil {
			return position, err
		}

		for _, row := range parseRows(doc) {
			if err := emit(ctx, s.candidate(row)); err != nil {
				return position, err
			}
		}

		next := nextPageURL(doc, pageURL)
		if next == "" || next == pageURL {
			break
		}
		pageURL = next

		if page < s.maxPages-1 {
			if err := source.Pause(ctx, s.pageDelay); err != nil {
				return position, err
			}
		}
	}

	return position, nil
}

func (s *Source) candidate(row rowData) domain.CandidateItem {
	fields := make(map[string]any, 3)
	if len(row.titles) > 0 {
		fields["title"] = row.titles
	}
	if len(row.attrs) > 0 {
		fields["attrs"] = row.attrs
	}
	if len(row.addrs) > 0 {
		fields["addresses"] = row.addrs
	}

	// The raw payload must stay valid JSON for the audit trail, so the row
	// markup is stored as a JSON string.
	var raw json.RawMessage
	if row.html != "" {
		if b, err := json.Marshal(row.html); err == nil {
			raw = b
		}
	}

	return domain.CandidateItem{
		Protocol:   domain.ProtocolViewBlock,
		Source:     s.name,
		Fields:     fields,
		Text:       row.text,
		Raw:        raw,
		CapturedAt: time.Now().UTC(),
	}
}

// parseRows collects every table row that has data cells. Header rows have
// none and are skipped.
func parseRows(doc *html.Node) []rowData {
	var rows []rowData
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			if row, ok := parseRow(n); ok {
				rows = append(rows, row)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return rows
}

func parseRow(tr *html.Node) (rowData, bool) {
	var (
		row       rowData
		textParts []string
		hasCell   bool
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if n.Data == "td" {
				hasCell = true
			}
			for _, a := range n.Attr {
				switch {
				case a.Key == "title" && a.Val != "":
					row.titles = append(row.titles, a.Val)
				case a.Key == "href" && a.Val != "":
					row.attrs = append(row.attrs, a.Val)
					// Explorer address links carry encodings the generic
					// hex scan cannot recover, bech32 in particular.
					if addr := addressSegment(a.Val); addr != "" {
						row.addrs = append(row.addrs, addr)
					}
				case strings.HasPrefix(a.Key, "data-") && a.Val != "":
					row.attrs = append(row.attrs, a.Val)
				}
			}
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				textParts = append(textParts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(tr)

	if !hasCell {
		return rowData{}, false
	}
	row.text = strings.Join(textParts, " ")

	var buf bytes.Buffer
	if err := html.Render(&buf, tr); err == nil {
		row.html = buf.String()
	}
	return row, true
}

// addressSegment pulls the address path segment out of an explorer link
// like /thorchain/address/thor1abc... or returns "".
func addressSegment(href string) string {
	const marker = "/address/"
	idx := strings.Index(href, marker)
	if idx < 0 {
		return ""
	}
	seg := href[idx+len(marker):]
	if end := strings.IndexAny(seg, "/?#"); end >= 0 {
		seg = seg[:end]
	}
	return seg
}

// nextPageURL finds the pagination link, by rel attribute or by label, and
// resolves it against the current page.
func nextPageURL(doc *html.Node, current string) string {
	base, err := url.Parse(current)
	if err != nil {
		return ""
	}

	var found string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			var href, rel string
			for _, a := range n.Attr {
				switch a.Key {
				case "href":
					href = a.Val
				case "rel":
					rel = a.Val
				}
			}
			if href != "" && (strings.Contains(rel, "next") || isNextLabel(nodeText(n))) {
				if ref, err := url.Parse(href); err == nil {
					found = base.ResolveReference(ref).String()
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

func isNextLabel(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "next", "next »", "»", "›", ">":
		return true
	}
	return false
}

func nodeText(n *html.Node) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package feed fetches the news feed and runs the polling cycle that finds
// new entries and hands them to a [Forwarder].
package feed

import (
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// Entry is a single feed item, reduced to what is needed to forward it.
type Entry struct {
	// ID identifies the entry across fetches: its link, or its GUID when it
	// has no link.
	ID    string `json:"id"`
	Title string `json:"title"`
	// Body is the description (or content) as plain text.
	Body string `json:"body"`
	// Link is the item link, or the GUID when the item has no link and its
	// GUID is a web address.
	Link      string    `json:"link"`
	Published time.Time `json:"published,omitzero"`
}

// FromItem converts a parsed feed item. It reports false for items that have
// neither a link nor a GUID, since they can't be told apart between fetches.
func FromItem(item *gofeed.Item) (Entry, bool) {
	link := strings.TrimSpace(item.Link)
	id := cleanID(link)
	if id == "" {
		id = cleanID(item.GUID)
		if isWebURL(id) {
			link = id
		}
	}
	if id == "" {
		return Entry{}, false
	}

	e := Entry{
		ID:    id,
		Title: strings.ReplaceAll(stripHTML(item.Title), "\n", " "),
		Body:  stripHTML(item.Description),
		Link:  link,
	}
	if e.Body == "" {
		e.Body = stripHTML(item.Content)
	}
	switch {
	case item.PublishedParsed != nil:
		e.Published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		e.Published = *item.UpdatedParsed
	}
	return e, true
}

// cleanID drops surrounding space and control characters, so the identifier
// fits on one line of the seen file.
func cleanID(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

func isWebURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// stripHTML converts an HTML fragment to plain text, keeping paragraph and
// line breaks.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return tidy(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return tidy(s)
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, blockquote").AppendHtml("\n\n")
	return tidy(doc.Text())
}

// tidy collapses runs of spaces inside lines and runs of blank lines, and
// trims the result.
func tidy(s string) string {
	var (
		sb    strings.Builder
		blank bool
	)
	for line := range strings.SplitSeq(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = sb.Len() > 0
			continue
		}
		if sb.Len() > 0 {
			if blank {
				sb.WriteString("\n\n")
			} else {
				sb.WriteString("\n")
			}
		}
		blank = false
		sb.WriteString(line)
	}
	return sb.String()
}

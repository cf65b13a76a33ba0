package model

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// MonitoringJob pairs one document with the channels whose discussion may
// contradict it. Jobs are loaded once per run and never mutated.
type MonitoringJob struct {
	ID         string
	Name       string
	Document   DocumentRef
	Channels   []ChannelRef
	OwnerEmail string
}

// DocumentRef identifies a Notion page by its id (no dashes, lower case).
type DocumentRef struct {
	PageID string
}

// ChannelRef identifies a Slack channel.
type ChannelRef struct {
	ID string
}

var pageIDPattern = regexp.MustCompile(`[a-f0-9]{8}-?[a-f0-9]{4}-?[a-f0-9]{4}-?[a-f0-9]{4}-?[a-f0-9]{12}`)

// lastPageID returns the last id in s; Notion appends the id to the slug.
func lastPageID(s string) string {
	matches := pageIDPattern.FindAllString(s, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.ReplaceAll(matches[len(matches)-1], "-", "")
}

// ParseDocumentRef accepts a bare page id, a dashed UUID or a Notion URL and
// extracts the page id. A URL's path wins over its query string, so a
// database view link resolves to the id in its path unless the path has none.
func ParseDocumentRef(raw string) (DocumentRef, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return DocumentRef{}, false
	}
	if id := lastPageID(s); id != "" && len(strings.ReplaceAll(s, "-", "")) == 32 {
		return DocumentRef{PageID: id}, true
	}

	u, err := url.Parse(s)
	if err != nil {
		return DocumentRef{}, false
	}
	for _, part := range strings.Split(u.Path, "/") {
		if id := lastPageID(part); id != "" {
			return DocumentRef{PageID: id}, true
		}
	}
	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range query[k] {
			if id := lastPageID(v); id != "" {
				return DocumentRef{PageID: id}, true
			}
		}
	}
	return DocumentRef{}, false
}

// DeepLink returns the URL that opens the page scrolled to the given block.
func DeepLink(pageID, blockID string) string {
	page := strings.ReplaceAll(pageID, "-", "")
	if blockID == "" {
		return "https://www.notion.so/" + page
	}
	return "https://www.notion.so/" + page + "#" + strings.ReplaceAll(blockID, "-", "")
}

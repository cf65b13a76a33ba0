package notion

import (
	"context"
	"fmt"
	"sort"

	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/logging"
	"github.com/agenthands/driftwatch/internal/retry"
)

// maxDepth bounds recursion into nested blocks.
const maxDepth = 16

// Fetcher assembles full documents from paged API calls. Every call goes
// through the retry policy.
type Fetcher struct {
	client *Client
	policy *retry.Policy
	logger logging.Logger
}

func NewFetcher(client *Client, policy *retry.Policy, logger logging.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if policy == nil {
		policy = retry.New("notion", retry.DefaultConfig(), logger)
	}
	return &Fetcher{client: client, policy: policy, logger: logger}
}

// FetchDocument loads the page's properties and its complete block tree.
func (f *Fetcher) FetchDocument(ctx context.Context, ref model.DocumentRef) (*model.Document, error) {
	page, err := retry.Get(ctx, f.policy, func(ctx context.Context) (*Page, error) {
		return f.client.GetPage(ctx, ref.PageID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page %s: %w", ref.PageID, err)
	}

	props := decodeProperties(page)
	sort.Slice(props, func(i, j int) bool { return props[i].Key < props[j].Key })

	doc := &model.Document{
		ID:         ref.PageID,
		URL:        page.URL,
		Title:      pageTitle(page),
		Properties: props,
	}

	doc.Blocks, err = f.children(ctx, ref.PageID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blocks of %s: %w", ref.PageID, err)
	}

	f.logger.WithFields(logging.Fields{
		"page_id":    ref.PageID,
		"properties": len(doc.Properties),
	}).Debug("Fetched document")
	return doc, nil
}

func (f *Fetcher) children(ctx context.Context, blockID string, depth int) ([]*model.ContentBlock, error) {
	var blocks []*model.ContentBlock
	cursor := ""
	for {
		list, err := retry.Get(ctx, f.policy, func(ctx context.Context) (*BlockList, error) {
			return f.client.GetBlockChildren(ctx, blockID, cursor)
		})
		if err != nil {
			return nil, err
		}
		for _, b := range list.Results {
			cb := toContentBlock(b)
			// child pages are separate documents
			if b.HasChildren && cb.Type != model.BlockChildPage {
				if depth+1 >= maxDepth {
					f.logger.WithField("block_id", b.ID).Warn("Block nesting too deep; children skipped")
				} else {
					cb.Children, err = f.children(ctx, b.ID, depth+1)
					if err != nil {
						return nil, err
					}
				}
			}
			blocks = append(blocks, cb)
		}
		if !list.HasMore || list.NextCursor == "" {
			return blocks, nil
		}
		cursor = list.NextCursor
	}
}

// ListUsers pages through all workspace users of type person.
func (f *Fetcher) ListUsers(ctx context.Context) ([]model.Person, error) {
	var people []model.Person
	cursor := ""
	for {
		list, err := retry.Get(ctx, f.policy, func(ctx context.Context) (*UserList, error) {
			return f.client.ListUsers(ctx, cursor)
		})
		if err != nil {
			return nil, err
		}
		for _, u := range list.Results {
			if u.Type != "" && u.Type != "person" {
				continue
			}
			people = append(people, u.toPerson())
		}
		if !list.HasMore || list.NextCursor == "" {
			return people, nil
		}
		cursor = list.NextCursor
	}
}

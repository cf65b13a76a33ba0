// Package source gives the orchestrator bounded, run-scoped access to the
// document and chat providers.
package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/fault"
)

// DocumentFetcher loads a complete document.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, ref model.DocumentRef) (*model.Document, error)
}

// ChannelFetcher loads the messages of one channel inside a lookback window.
type ChannelFetcher interface {
	FetchChannel(ctx context.Context, ch model.ChannelRef, window time.Duration) ([]model.ChatMessage, error)
}

// Limits caps in-flight requests per provider. Zero means one.
type Limits struct {
	Documents int64
	Channels  int64
}

type Sources struct {
	docs    DocumentFetcher
	chat    ChannelFetcher
	window  time.Duration
	docSem  *semaphore.Weighted
	chatSem *semaphore.Weighted
}

func New(docs DocumentFetcher, chat ChannelFetcher, window time.Duration, limits Limits) *Sources {
	return &Sources{
		docs:    docs,
		chat:    chat,
		window:  window,
		docSem:  semaphore.NewWeighted(atLeastOne(limits.Documents)),
		chatSem: semaphore.NewWeighted(atLeastOne(limits.Channels)),
	}
}

func atLeastOne(n int64) int64 {
	if n < 1 {
		return 1
	}
	return n
}

// NewRun returns an empty cache for one run. Jobs sharing a document or a
// channel within the run fetch it once; nothing outlives the run.
func (s *Sources) NewRun() *RunCache {
	return &RunCache{
		sources:  s,
		docs:     make(map[string]*model.Document),
		channels: make(map[string][]model.ChatMessage),
	}
}

type RunCache struct {
	sources *Sources
	group   singleflight.Group

	mu       sync.RWMutex
	docs     map[string]*model.Document
	channels map[string][]model.ChatMessage
}

// shared detaches a fetch other jobs may be waiting on from the cancellation
// of the job that started it. The run deadline still applies.
func shared(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithCancel(detached)
}

// Document returns the document, fetching it at most once per run unless the
// fetch fails.
func (c *RunCache) Document(ctx context.Context, ref model.DocumentRef) (*model.Document, error) {
	key := "doc:" + ref.PageID
	c.mu.RLock()
	doc, ok := c.docs[key]
	c.mu.RUnlock()
	if ok {
		return doc, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		cached, ok := c.docs[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		ctx, cancel := shared(ctx)
		defer cancel()
		if err := c.sources.docSem.Acquire(ctx, 1); err != nil {
			return nil, fault.New(fault.Timeout, "source.Document", err)
		}
		defer c.sources.docSem.Release(1)

		doc, err := c.sources.docs.FetchDocument(ctx, ref)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.docs[key] = doc
		c.mu.Unlock()
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Document), nil
}

// Channel returns the channel's messages in the configured window.
func (c *RunCache) Channel(ctx context.Context, ch model.ChannelRef) ([]model.ChatMessage, error) {
	key := fmt.Sprintf("chan:%s:%s", ch.ID, c.sources.window)
	c.mu.RLock()
	msgs, ok := c.channels[key]
	c.mu.RUnlock()
	if ok {
		return msgs, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		cached, ok := c.channels[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		ctx, cancel := shared(ctx)
		defer cancel()
		if err := c.sources.chatSem.Acquire(ctx, 1); err != nil {
			return nil, fault.New(fault.Timeout, "source.Channel", err)
		}
		defer c.sources.chatSem.Release(1)

		msgs, err := c.sources.chat.FetchChannel(ctx, ch, c.sources.window)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.channels[key] = msgs
		c.mu.Unlock()
		return msgs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.ChatMessage), nil
}

package core

import (
	"context"
	"sync"
	"time"

	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/fault"
	"github.com/agenthands/driftwatch/internal/notify"
)

type MockDocuments struct {
	mu      sync.Mutex
	Docs    map[string]*model.Document
	Errs    map[string]error
	PanicOn string
	Calls   int
}

func (m *MockDocuments) FetchDocument(ctx context.Context, ref model.DocumentRef) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if ref.PageID == m.PanicOn {
		panic("decoder exploded")
	}
	if err := m.Errs[ref.PageID]; err != nil {
		return nil, err
	}
	doc, ok := m.Docs[ref.PageID]
	if !ok {
		return nil, fault.Errorf(fault.Permanent, "mock.FetchDocument", "page %s not found", ref.PageID)
	}
	return doc, nil
}

func (m *MockDocuments) SetBlockText(pageID, blockID, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Docs[pageID].Walk(func(b *model.ContentBlock, _ int) {
		if b.ID == blockID {
			b.Text = text
		}
	})
}

type MockChannels struct {
	mu       sync.Mutex
	Messages map[string][]model.ChatMessage
	Errs     map[string]error
	Calls    int
}

func (m *MockChannels) FetchChannel(ctx context.Context, ch model.ChannelRef, window time.Duration) ([]model.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if err := m.Errs[ch.ID]; err != nil {
		return nil, err
	}
	return m.Messages[ch.ID], nil
}

// MockLLM answers every prompt through Respond.
type MockLLM struct {
	mu sync.Mutex
	Respond func(ctx context.Context, prompt string) (string, error)
	Prompts []string
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	respond := m.Respond
	m.mu.Unlock()
	return respond(ctx, prompt)
}

func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

type sentMessage struct {
	ChatUserID string
	Message    notify.Message
}

type MockSender struct {
	mu    sync.Mutex
	Errs  []error
	Sent  []sentMessage
	Delay time.Duration // ignores ctx, like a request already on the wire
}

func (m *MockSender) Send(ctx context.Context, chatUserID string, msg notify.Message) error {
	m.mu.Lock()
	delay := m.Delay
	m.mu.Unlock()
	time.Sleep(delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Errs) > 0 {
		err := m.Errs[0]
		m.Errs = m.Errs[1:]
		return err
	}
	m.Sent = append(m.Sent, sentMessage{ChatUserID: chatUserID, Message: msg})
	return nil
}

func (m *MockSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

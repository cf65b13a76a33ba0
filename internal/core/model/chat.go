package model

import (
	"sort"
	"time"
)

// ChatMessage is one message from a channel. ID is the provider's message
// id, unique within its channel; ParentID is set for thread replies.
type ChatMessage struct {
	ID        string
	ChannelID string
	AuthorID  string
	Timestamp time.Time
	Text      string
	ParentID  string
}

// Ref is the message reference used in canonical text and findings.
func (m ChatMessage) Ref() string {
	return m.ChannelID + "/" + m.ID
}

// ParentRef is the reference of the thread root this message replies to.
func (m ChatMessage) ParentRef() string {
	if !m.IsReply() {
		return ""
	}
	return m.ChannelID + "/" + m.ParentID
}

// IsReply reports whether the message belongs to another message's thread.
func (m ChatMessage) IsReply() bool {
	return m.ParentID != "" && m.ParentID != m.ID
}

// ChatThread is a root message and its replies in timestamp order.
type ChatThread struct {
	Root    ChatMessage
	Replies []ChatMessage
}

// Latest returns the timestamp of the most recent message in the thread.
func (t ChatThread) Latest() time.Time {
	latest := t.Root.Timestamp
	for _, r := range t.Replies {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return latest
}

// OrphanGroup holds replies whose root was not part of the fetch window.
type OrphanGroup struct {
	ParentRef string
	Replies   []ChatMessage
}

// Latest returns the timestamp of the most recent orphaned reply.
func (g OrphanGroup) Latest() time.Time {
	var latest time.Time
	for _, r := range g.Replies {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return latest
}

// ThreadSet is the grouped discussion of one or more channels.
type ThreadSet struct {
	Threads []ChatThread
	Orphans []OrphanGroup
}

// Len returns the number of messages across threads and orphans.
func (s ThreadSet) Len() int {
	n := 0
	for _, t := range s.Threads {
		n += 1 + len(t.Replies)
	}
	for _, o := range s.Orphans {
		n += len(o.Replies)
	}
	return n
}

// Refs returns the set of message references present in the set.
func (s ThreadSet) Refs() map[string]bool {
	refs := make(map[string]bool, s.Len())
	for _, t := range s.Threads {
		refs[t.Root.Ref()] = true
		for _, r := range t.Replies {
			refs[r.Ref()] = true
		}
	}
	for _, o := range s.Orphans {
		for _, r := range o.Replies {
			refs[r.Ref()] = true
		}
	}
	return refs
}

// GroupThreads groups messages into threads by parent id. Duplicate refs are
// kept once. Every reply ends up either under its root or in an orphan
// group; nothing is dropped.
func GroupThreads(messages []ChatMessage) ThreadSet {
	seen := make(map[string]bool, len(messages))
	roots := make(map[string]*ChatThread)
	var rootOrder []string
	var replies []ChatMessage

	for _, m := range messages {
		ref := m.Ref()
		if seen[ref] {
			continue
		}
		seen[ref] = true
		if m.IsReply() {
			replies = append(replies, m)
			continue
		}
		roots[ref] = &ChatThread{Root: m}
		rootOrder = append(rootOrder, ref)
	}

	orphans := make(map[string]*OrphanGroup)
	var orphanOrder []string
	for _, r := range replies {
		parent := r.ParentRef()
		if t, ok := roots[parent]; ok {
			t.Replies = append(t.Replies, r)
			continue
		}
		g, ok := orphans[parent]
		if !ok {
			g = &OrphanGroup{ParentRef: parent}
			orphans[parent] = g
			orphanOrder = append(orphanOrder, parent)
		}
		g.Replies = append(g.Replies, r)
	}

	var set ThreadSet
	for _, ref := range rootOrder {
		t := roots[ref]
		sortMessages(t.Replies)
		set.Threads = append(set.Threads, *t)
	}
	sort.SliceStable(set.Threads, func(i, j int) bool {
		return lessMessage(set.Threads[i].Root, set.Threads[j].Root)
	})

	sort.Strings(orphanOrder)
	for _, ref := range orphanOrder {
		g := orphans[ref]
		sortMessages(g.Replies)
		set.Orphans = append(set.Orphans, *g)
	}
	return set
}

func sortMessages(msgs []ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return lessMessage(msgs[i], msgs[j])
	})
}

func lessMessage(a, b ChatMessage) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Ref() < b.Ref()
}

package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/driftwatch/internal/core/model"
)

// NameFunc resolves a chat author id to a display name.
type NameFunc func(authorID string) string

// ThreadChunk is the rendering of one thread or orphan group. Latest orders
// chunks for truncation.
type ThreadChunk struct {
	Ref    string
	Latest time.Time
	Text   string
}

// Threads renders each thread, then each orphan group, in ThreadSet order.
func (n *Normalizer) Threads(set model.ThreadSet, names NameFunc) []ThreadChunk {
	if names == nil {
		names = func(id string) string { return id }
	}
	chunks := make([]ThreadChunk, 0, len(set.Threads)+len(set.Orphans))
	for _, t := range set.Threads {
		var b strings.Builder
		fmt.Fprintf(&b, "THREAD %s\n", t.Root.Ref())
		writeMessage(&b, "", t.Root, names)
		for _, r := range t.Replies {
			writeMessage(&b, "    ", r, names)
		}
		chunks = append(chunks, ThreadChunk{Ref: t.Root.Ref(), Latest: t.Latest(), Text: b.String()})
	}
	for _, o := range set.Orphans {
		var b strings.Builder
		fmt.Fprintf(&b, "ORPHANS (parent %s outside window)\n", o.ParentRef)
		for _, r := range o.Replies {
			writeMessage(&b, "    ", r, names)
		}
		chunks = append(chunks, ThreadChunk{Ref: o.ParentRef, Latest: o.Latest(), Text: b.String()})
	}
	return chunks
}

func writeMessage(b *strings.Builder, indent string, m model.ChatMessage, names NameFunc) {
	text := strings.TrimSpace(m.Text)
	text = strings.ReplaceAll(text, "\n", "\n"+indent+"  ")
	fmt.Fprintf(b, "%s[%s] %s %s: %s\n", indent, m.Ref(), m.Timestamp.UTC().Format(time.RFC3339), names(m.AuthorID), text)
}

// JoinThreads concatenates chunks with a blank line between them.
func JoinThreads(chunks []ThreadChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, "\n")
}

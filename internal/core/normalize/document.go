// Package normalize turns fetched documents and chat threads into the
// canonical text handed to the analyzer. Every function here is pure: the same
// input always renders byte-identical output.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agenthands/driftwatch/internal/core/model"
)

// BlockEntry locates a block inside the canonical document text.
type BlockEntry struct {
	ID    string
	Line  int
	Depth int
	Type  model.BlockType
	// Text is the block's rendering without indent or id prefix. It is the
	// text fingerprints and notifications quote.
	Text string
}

// Canonical is a rendered document plus its block index.
type Canonical struct {
	Text  string
	Index map[string]BlockEntry
	Order []string
}

// Block returns the index entry for id.
func (c Canonical) Block(id string) (BlockEntry, bool) {
	e, ok := c.Index[id]
	return e, ok
}

// Normalizer renders documents and threads. Timestamps are shown in Location.
type Normalizer struct {
	Location *time.Location
}

// New returns a normalizer rendering times in loc; nil means UTC.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{Location: loc}
}

// Document renders doc as:
//
//	PAGE <id>: <title>
//	PROPERTIES
//	<Key>: <value>
//	CONTENT
//	[<block id>] <rendering>
//
// with two spaces of indent per nesting level.
func (n *Normalizer) Document(doc *model.Document) Canonical {
	var lines []string
	lines = append(lines, fmt.Sprintf("PAGE %s: %s", doc.ID, oneLine(doc.Title)))

	props := n.Properties(doc.Properties)
	if len(props) > 0 {
		lines = append(lines, "PROPERTIES")
		lines = append(lines, props...)
	}

	canon := Canonical{Index: make(map[string]BlockEntry)}
	lines = append(lines, "CONTENT")
	doc.Walk(func(b *model.ContentBlock, depth int) {
		if b.ID == "" {
			return
		}
		if _, dup := canon.Index[b.ID]; dup {
			return
		}
		indent := strings.Repeat("  ", depth)
		text := renderBlock(b)
		rendered := strings.ReplaceAll(text, "\n", "\n"+indent+"  ")
		canon.Index[b.ID] = BlockEntry{
			ID:    b.ID,
			Line:  len(lines),
			Depth: depth,
			Type:  b.Type,
			Text:  text,
		}
		canon.Order = append(canon.Order, b.ID)
		lines = append(lines, fmt.Sprintf("%s[%s] %s", indent, b.ID, rendered))
	})

	canon.Text = strings.Join(lines, "\n") + "\n"
	return canon
}

func renderBlock(b *model.ContentBlock) string {
	text := strings.TrimRight(b.Text, " \n")
	switch b.Type {
	case model.BlockParagraph:
		return text
	case model.BlockHeading1:
		return "# " + text
	case model.BlockHeading2:
		return "## " + text
	case model.BlockHeading3:
		return "### " + text
	case model.BlockBulleted:
		return "- " + text
	case model.BlockNumbered:
		return "1. " + text
	case model.BlockToDo:
		if b.Checked != nil && *b.Checked {
			return "[x] " + text
		}
		return "[ ] " + text
	case model.BlockQuote, model.BlockCallout:
		return "> " + text
	case model.BlockToggle:
		return "▸ " + text
	case model.BlockCode:
		return "```" + b.Language + "\n" + text + "\n```"
	case model.BlockDivider:
		return "---"
	case model.BlockTable:
		return "(table)"
	case model.BlockTableRow:
		cells := make([]string, len(b.Cells))
		for i, c := range b.Cells {
			cells[i] = oneLine(c)
		}
		return strings.Join(cells, " | ")
	case model.BlockChildPage:
		return "[page] " + text
	default:
		return string(b.Type) + ": " + text
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Properties renders non-empty properties as "Key: value", sorted by the
// humanized key.
func (n *Normalizer) Properties(props []model.Property) []string {
	type row struct{ key, raw, value string }
	rows := make([]row, 0, len(props))
	for _, p := range props {
		if p.Value.IsEmpty() {
			continue
		}
		v := n.PropertyValue(p.Value)
		if v == "" {
			continue
		}
		rows = append(rows, row{key: HumanizeKey(p.Key), raw: p.Key, value: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].key != rows[j].key {
			return rows[i].key < rows[j].key
		}
		return rows[i].raw < rows[j].raw
	})
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.key + ": " + r.value
	}
	return out
}

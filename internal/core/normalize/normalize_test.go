package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/driftwatch/internal/core/model"
)

func ptr[T any](v T) *T { return &v }

func sampleDocument() *model.Document {
	return &model.Document{
		ID:    "page1",
		Title: "Launch Plan",
		Properties: []model.Property{
			{Key: "status", Value: model.PropertyValue{Kind: model.KindStatus, Text: "In progress"}},
			{Key: "launchDate", Value: model.PropertyValue{Kind: model.KindDate, DateStart: "2024-03-01"}},
			{Key: "Owner", Value: model.PropertyValue{Kind: model.KindPeople, People: []model.Person{{ID: "n-1", Name: "Olivia"}}}},
			{Key: "notes", Value: model.PropertyValue{Kind: model.KindText}},
		},
		Blocks: []*model.ContentBlock{
			{ID: "b1", Type: model.BlockHeading1, Text: "Timeline"},
			{ID: "b2", Type: model.BlockParagraph, Text: "Launch date: March 1", Children: []*model.ContentBlock{
				{ID: "b3", Type: model.BlockToDo, Text: "Book venue", Checked: ptr(true)},
			}},
			{ID: "b4", Type: model.BlockCode, Language: "go", Text: "a := 1\nb := 2"},
			{ID: "b5", Type: model.BlockTable, Children: []*model.ContentBlock{
				{ID: "b6", Type: model.BlockTableRow, Cells: []string{"Region", "Date"}},
			}},
			{ID: "b7", Type: "synced_block", Text: "shared"},
		},
	}
}

func TestDocumentRendering(t *testing.T) {
	canon := New(time.UTC).Document(sampleDocument())

	want := "PAGE page1: Launch Plan\n" +
		"PROPERTIES\n" +
		"Launch Date: 2024-03-01\n" +
		"Owner: Olivia\n" +
		"Status: In progress\n" +
		"CONTENT\n" +
		"[b1] # Timeline\n" +
		"[b2] Launch date: March 1\n" +
		"  [b3] [x] Book venue\n" +
		"[b4] ```go\n" +
		"  a := 1\n" +
		"  b := 2\n" +
		"  ```\n" +
		"[b5] (table)\n" +
		"  [b6] Region | Date\n" +
		"[b7] synced_block: shared\n"
	assert.Equal(t, want, canon.Text)

	entry, ok := canon.Block("b3")
	require.True(t, ok)
	assert.Equal(t, 1, entry.Depth)
	assert.Equal(t, "[x] Book venue", entry.Text)
	assert.Equal(t, 8, entry.Line)
	assert.Equal(t, []string{"b1", "b2", "b3", "b4", "b5", "b6", "b7"}, canon.Order)
}

func TestDocumentIsDeterministic(t *testing.T) {
	n := New(time.UTC)
	a := n.Document(sampleDocument())
	doc := sampleDocument()
	doc.Properties[0], doc.Properties[2] = doc.Properties[2], doc.Properties[0]
	b := n.Document(doc)
	assert.Equal(t, a.Text, b.Text)
}

func TestHumanizeKey(t *testing.T) {
	cases := map[string]string{
		"launch_date": "Launch Date",
		"launchDate":  "Launch Date",
		"Owner":       "Owner",
		"PR URL":      "PR URL",
		"go-live-on":  "Go Live On",
	}
	for in, want := range cases {
		assert.Equal(t, want, HumanizeKey(in), in)
	}
}

func TestPropertyValueRendering(t *testing.T) {
	pst := time.FixedZone("PST", -8*3600)
	n := New(pst)

	assert.Equal(t, "42.5", n.PropertyValue(model.PropertyValue{Kind: model.KindNumber, Number: ptr(42.5)}))
	assert.Equal(t, "No", n.PropertyValue(model.PropertyValue{Kind: model.KindCheckbox, Bool: ptr(false)}))
	assert.Equal(t, "a, b", n.PropertyValue(model.PropertyValue{Kind: model.KindMultiSelect, Names: []string{"a", "b"}}))
	assert.Equal(t, "3 linked", n.PropertyValue(model.PropertyValue{Kind: model.KindRelation, Count: 3}))
	assert.Equal(t, "(button)", n.PropertyValue(model.PropertyValue{Kind: model.KindOpaque, RawType: "button"}))
	assert.Equal(t, "2024-03-01 to 2024-03-15",
		n.PropertyValue(model.PropertyValue{Kind: model.KindDate, DateStart: "2024-03-01", DateEnd: "2024-03-15"}))
	assert.Equal(t, "2024-02-01 10:00 PST",
		n.PropertyValue(model.PropertyValue{Kind: model.KindDate, DateStart: "2024-02-01T18:00:00Z"}))
	assert.Equal(t, "2024-02-01 10:00 PST",
		n.PropertyValue(model.PropertyValue{Kind: model.KindTimestamp, Time: time.Date(2024, 2, 1, 18, 0, 0, 0, time.UTC)}))
}

func TestThreadsRendering(t *testing.T) {
	at := func(min int) time.Time { return time.Date(2024, 2, 1, 10, min, 0, 0, time.UTC) }
	set := model.GroupThreads([]model.ChatMessage{
		{ID: "1.0", ChannelID: "C1", AuthorID: "U1", Timestamp: at(1), Text: "We pushed launch\nto March 15"},
		{ID: "2.0", ChannelID: "C1", AuthorID: "U2", Timestamp: at(2), Text: "ok", ParentID: "1.0"},
		{ID: "5.0", ChannelID: "C1", AuthorID: "U3", Timestamp: at(5), Text: "late reply", ParentID: "0.5"},
	})
	names := func(id string) string {
		if id == "U1" {
			return "olivia"
		}
		return id
	}

	chunks := New(time.UTC).Threads(set, names)
	require.Len(t, chunks, 2)
	assert.Equal(t, "THREAD C1/1.0\n"+
		"[C1/1.0] 2024-02-01T10:01:00Z olivia: We pushed launch\n"+
		"  to March 15\n"+
		"    [C1/2.0] 2024-02-01T10:02:00Z U2: ok\n", chunks[0].Text)
	assert.Equal(t, at(2), chunks[0].Latest)
	assert.Equal(t, "ORPHANS (parent C1/0.5 outside window)\n"+
		"    [C1/5.0] 2024-02-01T10:05:00Z U3: late reply\n", chunks[1].Text)

	joined := JoinThreads(chunks)
	assert.Contains(t, joined, "ok\n\nORPHANS")
}

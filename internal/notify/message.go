// Package notify delivers conflict findings to document owners as Slack
// direct messages.
package notify

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/agenthands/driftwatch/internal/core/model"
)

const (
	maxHeaderChars  = 150
	maxSectionChars = 3000
)

// Message is a rendered notification for one finding.
type Message struct {
	JobName       string
	DocumentTitle string
	Claim         string
	CurrentText   string
	SuggestedText string
	Reasoning     string
	Confidence    float64
	// DocumentLink opens the document at the cited block.
	DocumentLink string
	// SourceLink points at the supporting chat message; may be empty.
	SourceLink string
	SourceRef  string
}

// NewMessage renders a finding for the given job and document.
func NewMessage(job model.MonitoringJob, doc *model.Document, f model.ConflictFinding) Message {
	title := job.Name
	if doc != nil && doc.Title != "" {
		title = doc.Title
	}
	return Message{
		JobName:       job.Name,
		DocumentTitle: title,
		Claim:         f.Claim,
		CurrentText:   f.CurrentText,
		SuggestedText: f.SuggestedText,
		Reasoning:     f.Reasoning,
		Confidence:    f.Confidence,
		DocumentLink:  model.DeepLink(job.Document.PageID, f.BlockID),
		SourceLink:    f.SourceLink,
		SourceRef:     f.SourceRef,
	}
}

// Text is the plain-text fallback shown in notifications and by clients
// without Block Kit.
func (m Message) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Possible update needed in %q: %s\n", m.DocumentTitle, m.Claim)
	if m.CurrentText != "" {
		fmt.Fprintf(&b, "Current: %s\n", m.CurrentText)
	}
	fmt.Fprintf(&b, "Suggested: %s\n", m.SuggestedText)
	fmt.Fprintf(&b, "Confidence: %s\n", confidenceLabel(m.Confidence))
	fmt.Fprintf(&b, "Document: %s\n", m.DocumentLink)
	if m.SourceLink != "" {
		fmt.Fprintf(&b, "Discussion: %s\n", m.SourceLink)
	}
	return b.String()
}

// Blocks lays the message out as a Block Kit DM.
func (m Message) Blocks() []slack.Block {
	header := truncate("Update suggested: "+m.DocumentTitle, maxHeaderChars)
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, false, false)),
		section("*What changed in discussion*\n" + escape(m.Claim)),
	}
	if m.CurrentText != "" {
		blocks = append(blocks, section("*Current text*\n>"+escape(oneLine(m.CurrentText))))
	}
	blocks = append(blocks, section("*Suggested text*\n>"+escape(oneLine(m.SuggestedText))))

	details := fmt.Sprintf("*Confidence:* %s", confidenceLabel(m.Confidence))
	if m.Reasoning != "" {
		details = "*Reasoning:* " + escape(m.Reasoning) + "\n" + details
	}
	blocks = append(blocks, section(details))

	open := slack.NewButtonBlockElement("open_document", m.DocumentLink,
		slack.NewTextBlockObject(slack.PlainTextType, "View in Notion", false, false))
	open.URL = m.DocumentLink
	open.Style = slack.StylePrimary
	elements := []slack.BlockElement{open}
	if m.SourceLink != "" {
		source := slack.NewButtonBlockElement("open_source", m.SourceRef,
			slack.NewTextBlockObject(slack.PlainTextType, "View discussion", false, false))
		source.URL = m.SourceLink
		elements = append(elements, source)
	}
	blocks = append(blocks, slack.NewActionBlock("finding_actions", elements...))

	if m.JobName != "" {
		blocks = append(blocks, slack.NewContextBlock("finding_context",
			slack.NewTextBlockObject(slack.MarkdownType, "Monitor: "+escape(m.JobName), false, false)))
	}
	return blocks
}

func section(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, truncate(text, maxSectionChars), false, false),
		nil, nil)
}

func confidenceLabel(c float64) string {
	switch {
	case c >= 0.85:
		return fmt.Sprintf("High (%.0f%%)", c*100)
	case c >= 0.5:
		return fmt.Sprintf("Medium (%.0f%%)", c*100)
	default:
		return fmt.Sprintf("Low (%.0f%%)", c*100)
	}
}

var mrkdwnEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string {
	return mrkdwnEscaper.Replace(s)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// MessageLink builds the Slack permalink of a chat message. Replies carry
// thread_ts so the thread opens around them. Empty when workspaceURL is.
func MessageLink(workspaceURL string, msg model.ChatMessage) string {
	if workspaceURL == "" || msg.ID == "" {
		return ""
	}
	link := fmt.Sprintf("%s/archives/%s/p%s",
		strings.TrimRight(workspaceURL, "/"), msg.ChannelID, strings.ReplaceAll(msg.ID, ".", ""))
	if msg.IsReply() {
		link += "?thread_ts=" + msg.ParentID + "&cid=" + msg.ChannelID
	}
	return link
}

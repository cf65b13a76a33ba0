package notify

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/agenthands/driftwatch/internal/source/slackchat"
)

// Sender delivers one message to one chat user.
type Sender interface {
	Send(ctx context.Context, chatUserID string, msg Message) error
}

// SlackSender opens (or reuses) the bot's DM with the user and posts there.
type SlackSender struct {
	client *slack.Client
}

func NewSlackSender(client *slack.Client) *SlackSender {
	return &SlackSender{client: client}
}

func (s *SlackSender) Send(ctx context.Context, chatUserID string, msg Message) error {
	channel, _, _, err := s.client.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{chatUserID},
	})
	if err != nil {
		return slackchat.Classify(ctx, "slack.conversations.open", err)
	}

	_, _, err = s.client.PostMessageContext(ctx, channel.ID,
		slack.MsgOptionText(msg.Text(), false),
		slack.MsgOptionBlocks(msg.Blocks()...),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	return slackchat.Classify(ctx, "slack.chat.postMessage", err)
}

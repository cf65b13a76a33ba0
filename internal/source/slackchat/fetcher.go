// Package slackchat reads channel history, thread replies and users from
// Slack.
package slackchat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/fault"
	"github.com/agenthands/driftwatch/internal/logging"
	"github.com/agenthands/driftwatch/internal/retry"
)

// Membership noise that never carries content.
var skippedSubtypes = map[string]bool{
	"channel_join":    true,
	"channel_leave":   true,
	"channel_topic":   true,
	"channel_purpose": true,
	"channel_name":    true,
}

var transientCodes = map[string]bool{
	"internal_error":      true,
	"fatal_error":         true,
	"service_unavailable": true,
	"request_timeout":     true,
}

type Fetcher struct {
	client   *slack.Client
	policy   *retry.Policy
	logger   logging.Logger
	pageSize int
	now      func() time.Time
}

func NewFetcher(client *slack.Client, policy *retry.Policy, logger logging.Logger, pageSize int) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if policy == nil {
		policy = retry.New("slack", retry.DefaultConfig(), logger)
	}
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Fetcher{client: client, policy: policy, logger: logger, pageSize: pageSize, now: time.Now}
}

// FetchChannel returns every message posted to the channel within window,
// including thread replies. Order is unspecified; see model.GroupThreads.
func (f *Fetcher) FetchChannel(ctx context.Context, ch model.ChannelRef, window time.Duration) ([]model.ChatMessage, error) {
	oldest := slackTimestamp(f.now().Add(-window))

	var messages []model.ChatMessage
	var threadRoots []string
	cursor := ""
	for {
		resp, err := retry.Get(ctx, f.policy, func(ctx context.Context) (*slack.GetConversationHistoryResponse, error) {
			resp, err := f.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
				ChannelID: ch.ID,
				Cursor:    cursor,
				Oldest:    oldest,
				Limit:     f.pageSize,
			})
			return resp, Classify(ctx, "slack.conversations.history", err)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch history of %s: %w", ch.ID, err)
		}
		for _, m := range resp.Messages {
			msg, ok := toChatMessage(ch.ID, m)
			if !ok {
				continue
			}
			messages = append(messages, msg)
			if m.ReplyCount > 0 && !msg.IsReply() {
				threadRoots = append(threadRoots, m.Timestamp)
			}
		}
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		cursor = resp.ResponseMetaData.NextCursor
	}

	for _, root := range threadRoots {
		replies, err := f.fetchReplies(ctx, ch.ID, root, oldest)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch replies of %s/%s: %w", ch.ID, root, err)
		}
		messages = append(messages, replies...)
	}

	f.logger.WithFields(logging.Fields{
		"channel":  ch.ID,
		"messages": len(messages),
		"threads":  len(threadRoots),
	}).Debug("Fetched channel")
	return messages, nil
}

type repliesPage struct {
	messages []slack.Message
	hasMore  bool
	next     string
}

func (f *Fetcher) fetchReplies(ctx context.Context, channelID, rootTS, oldest string) ([]model.ChatMessage, error) {
	var replies []model.ChatMessage
	cursor := ""
	for {
		page, err := retry.Get(ctx, f.policy, func(ctx context.Context) (repliesPage, error) {
			msgs, hasMore, next, err := f.client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
				ChannelID: channelID,
				Timestamp: rootTS,
				Cursor:    cursor,
				Oldest:    oldest,
				Limit:     f.pageSize,
			})
			return repliesPage{messages: msgs, hasMore: hasMore, next: next}, Classify(ctx, "slack.conversations.replies", err)
		})
		if err != nil {
			return nil, err
		}
		for _, m := range page.messages {
			if m.Timestamp == rootTS {
				continue
			}
			msg, ok := toChatMessage(channelID, m)
			if !ok {
				continue
			}
			if msg.ParentID == "" {
				msg.ParentID = rootTS
			}
			replies = append(replies, msg)
		}
		if !page.hasMore || page.next == "" {
			return replies, nil
		}
		cursor = page.next
	}
}

func toChatMessage(channelID string, m slack.Message) (model.ChatMessage, bool) {
	if skippedSubtypes[m.SubType] || m.Timestamp == "" {
		return model.ChatMessage{}, false
	}
	ts, err := ParseTimestamp(m.Timestamp)
	if err != nil {
		return model.ChatMessage{}, false
	}
	author := m.User
	if author == "" {
		author = m.BotID
	}
	msg := model.ChatMessage{
		ID:        m.Timestamp,
		ChannelID: channelID,
		AuthorID:  author,
		Timestamp: ts,
		Text:      m.Text,
	}
	if m.ThreadTimestamp != "" && m.ThreadTimestamp != m.Timestamp {
		msg.ParentID = m.ThreadTimestamp
	}
	return msg, true
}

// ParseTimestamp converts a Slack "seconds.micros" timestamp to UTC time.
func ParseTimestamp(ts string) (time.Time, error) {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slack timestamp %q: %w", ts, err)
	}
	var nsec int64
	if frac != "" {
		frac = (frac + "000000000")[:9]
		nsec, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid slack timestamp %q: %w", ts, err)
		}
	}
	return time.Unix(sec, nsec).UTC(), nil
}

func slackTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

// Classify maps slack-go errors onto fault kinds.
func Classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return fault.Throttled(op, rateLimited.RetryAfter, err)
	}
	var status slack.StatusCodeError
	if errors.As(err, &status) {
		return fault.FromStatus(op, status.Code, err)
	}
	if ctx.Err() != nil {
		return fault.New(fault.Timeout, op, ctx.Err())
	}
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Err == "ratelimited":
			return fault.New(fault.RateLimited, op, err)
		case transientCodes[apiErr.Err]:
			return fault.New(fault.Transient, op, err)
		default:
			return fault.New(fault.Permanent, op, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fault.New(fault.Transient, op, err)
	}
	if transientCodes[err.Error()] {
		return fault.New(fault.Transient, op, err)
	}
	return fault.New(fault.Permanent, op, err)
}

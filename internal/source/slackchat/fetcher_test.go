package slackchat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/fault"
	"github.com/agenthands/driftwatch/internal/retry"
)

var fixedNow = time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC)

func newTestFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/"))
	policy := retry.New("slack-test", retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, nil)
	f := NewFetcher(client, policy, nil, 2)
	f.now = func() time.Time { return fixedNow }
	return f
}

func TestFetchChannelPagesHistoryAndReplies(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/conversations.history":
			assert.Equal(t, "C1", r.Form.Get("channel"))
			assert.Equal(t, "1706745600.000000", r.Form.Get("oldest"))
			if r.Form.Get("cursor") == "" {
				_, _ = w.Write([]byte(`{"ok": true, "has_more": true, "response_metadata": {"next_cursor": "p2"}, "messages": [
					{"type": "message", "user": "U1", "text": "We pushed launch to March 15", "ts": "1706781600.000100", "thread_ts": "1706781600.000100", "reply_count": 1},
					{"type": "message", "subtype": "channel_join", "user": "U3", "text": "joined", "ts": "1706781700.000000"}
				]}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok": true, "has_more": false, "response_metadata": {"next_cursor": ""}, "messages": [
				{"type": "message", "bot_id": "B1", "text": "deploy done", "ts": "1706781800.000000"}
			]}`))
		case "/conversations.replies":
			assert.Equal(t, "1706781600.000100", r.Form.Get("ts"))
			_, _ = w.Write([]byte(`{"ok": true, "has_more": false, "messages": [
				{"type": "message", "user": "U1", "text": "We pushed launch to March 15", "ts": "1706781600.000100", "thread_ts": "1706781600.000100", "reply_count": 1},
				{"type": "message", "user": "U2", "text": "confirmed", "ts": "1706781660.000200", "thread_ts": "1706781600.000100"}
			]}`))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	})

	msgs, err := f.FetchChannel(context.Background(), model.ChannelRef{ID: "C1"}, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	set := model.GroupThreads(msgs)
	require.Len(t, set.Threads, 2)
	assert.Equal(t, "C1/1706781600.000100", set.Threads[0].Root.Ref())
	require.Len(t, set.Threads[0].Replies, 1)
	assert.Equal(t, "U2", set.Threads[0].Replies[0].AuthorID)
	assert.Equal(t, "B1", set.Threads[1].Root.AuthorID)
	assert.Empty(t, set.Orphans)
}

func TestFetchChannelRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "has_more": false, "messages": []}`))
	})

	start := time.Now()
	msgs, err := f.FetchChannel(context.Background(), model.ChannelRef{ID: "C1"}, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, int32(2), calls.Load())
	// Retry-After outweighs the 2ms backoff.
	assert.GreaterOrEqual(t, time.Since(start), 850*time.Millisecond)
}

func TestClassifyKeepsRetryAfter(t *testing.T) {
	err := Classify(context.Background(), "slack.history", &slack.RateLimitedError{RetryAfter: 30 * time.Second})
	assert.Equal(t, fault.RateLimited, fault.KindOf(err))
	assert.Equal(t, 30*time.Second, fault.RetryAfter(err))
}

func TestFetchChannelPermanentError(t *testing.T) {
	var calls atomic.Int32
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": false, "error": "channel_not_found"}`))
	})

	_, err := f.FetchChannel(context.Background(), model.ChannelRef{ID: "C404"}, time.Hour)
	require.Error(t, err)
	assert.Equal(t, fault.Permanent, fault.KindOf(err))
	assert.Contains(t, err.Error(), "channel_not_found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestListUsersFiltersBotsAndDeleted(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users.list", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true, "members": [
			{"id": "U1", "name": "olivia", "real_name": "Olivia O", "profile": {"email": "Owner@Acme.io", "display_name": "liv"}},
			{"id": "U2", "name": "ghost", "deleted": true, "profile": {"email": "ghost@acme.io"}},
			{"id": "B1", "name": "bot", "is_bot": true, "profile": {}},
			{"id": "USLACKBOT", "name": "slackbot", "profile": {}}
		], "response_metadata": {"next_cursor": ""}}`))
	})

	users, err := f.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []User{{ID: "U1", Name: "olivia", RealName: "Olivia O", DisplayName: "liv", Email: "owner@acme.io"}}, users)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("1706781600.000100")
	require.NoError(t, err)
	assert.Equal(t, int64(1706781600), ts.Unix())
	assert.Equal(t, 100000, ts.Nanosecond())

	_, err = ParseTimestamp("nope")
	assert.Error(t, err)
}

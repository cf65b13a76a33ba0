package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/driftwatch/internal/config"
	"github.com/agenthands/driftwatch/internal/core/analysis"
	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/core/normalize"
	"github.com/agenthands/driftwatch/internal/fault"
	"github.com/agenthands/driftwatch/internal/logging"
	"github.com/agenthands/driftwatch/internal/notify"
	"github.com/agenthands/driftwatch/internal/retry"
	"github.com/agenthands/driftwatch/internal/source"
	"github.com/agenthands/driftwatch/internal/store"
)

const (
	launchPage  = "0123456789abcdef0123456789abcdef"
	pricingPage = "fedcba9876543210fedcba9876543210"
	launchBlock = "5f1c2d3e-0000-4000-8000-00000000000b"
	rootTS      = "1706781600.000100"
)

type harness struct {
	docs    *MockDocuments
	chat    *MockChannels
	llm     *MockLLM
	sender  *MockSender
	store   *store.MemoryStore
	catalog config.Catalog
	monitor *Monitor
}

func launchDocument() *model.Document {
	return &model.Document{
		ID:    launchPage,
		Title: "Q2 Launch",
		Blocks: []*model.ContentBlock{
			{ID: "5f1c2d3e-0000-4000-8000-00000000000a", Type: model.BlockHeading1, Text: "Timeline"},
			{ID: launchBlock, Type: model.BlockParagraph, Text: "Launch date: March 1"},
		},
	}
}

func launchJob(id string) model.MonitoringJob {
	return model.MonitoringJob{
		ID:         id,
		Name:       "Launch plan",
		Document:   model.DocumentRef{PageID: launchPage},
		Channels:   []model.ChannelRef{{ID: "C1"}},
		OwnerEmail: "ana@example.com",
	}
}

func findingResponse(confidence float64) string {
	return fmt.Sprintf(`Here you go:
{"findings": [{
  "block_id": %q,
  "claim": "Launch moved to March 15",
  "current_text": "Launch date: March 1",
  "suggested_text": "Launch date: March 15",
  "reasoning": "The team agreed in the launch thread",
  "confidence": %g,
  "source_ref": "C1/%s"
}]}`, launchBlock, confidence, rootTS)
}

func testPolicy(name string) *retry.Policy {
	return retry.New(name, retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}, logging.NewNop())
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		docs: &MockDocuments{Docs: map[string]*model.Document{launchPage: launchDocument()}},
		chat: &MockChannels{Messages: map[string][]model.ChatMessage{
			"C1": {{
				ID:        rootTS,
				ChannelID: "C1",
				AuthorID:  "U2",
				Timestamp: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
				Text:      "we pushed launch to March 15",
			}},
		}},
		llm: &MockLLM{Respond: func(context.Context, string) (string, error) {
			return findingResponse(0.9), nil
		}},
		sender: &MockSender{},
		store:  store.NewMemoryStore(),
		catalog: config.Catalog{
			Jobs: []model.MonitoringJob{launchJob("launch")},
			Identities: []model.IdentityRecord{
				{Email: "ana@example.com", ChatUserID: "U1", ChatName: "ana"},
				{Email: "raj@example.com", ChatUserID: "U2", ChatName: "raj"},
			},
		},
	}

	nop := logging.NewNop()
	sources := source.New(h.docs, h.chat, 7*24*time.Hour, source.Limits{Documents: 2, Channels: 2})
	analyzer := analysis.NewAnalyzer(h.llm, testPolicy("llm"), analysis.Config{MinConfidence: 0.7}, nop)
	dispatcher := notify.NewDispatcher(h.sender, testPolicy("notify"), nop)
	h.monitor = NewMonitor(
		func() (config.Catalog, error) { return h.catalog, nil },
		sources, normalize.New(time.UTC), analyzer, h.store, dispatcher,
		Options{JobConcurrency: 2, WorkspaceURL: "https://acme.slack.com"},
		nop,
	)
	return h
}

func (h *harness) fingerprint(jobID, blockText string) model.Fingerprint {
	return model.FingerprintOf(jobID, launchBlock, blockText, "Launch moved to March 15")
}

func TestRunNotifiesOwnerOfConflict(t *testing.T) {
	h := newHarness(t)

	summary := h.monitor.Run(context.Background(), "manual")

	require.Len(t, summary.Jobs, 1)
	job := summary.Jobs[0]
	assert.Equal(t, model.StageDone, job.State)
	assert.Nil(t, job.Failure)
	assert.Equal(t, 1, job.Messages)
	assert.Equal(t, 1, job.Findings)
	assert.Equal(t, 1, job.Notified)
	assert.Equal(t, 1, summary.JobsCompleted)
	assert.Equal(t, 1, summary.FindingsSurfaced)
	assert.Equal(t, 1, summary.NotificationsSent)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, "manual", summary.Trigger)

	require.Len(t, h.sender.Sent, 1)
	sent := h.sender.Sent[0]
	assert.Equal(t, "U1", sent.ChatUserID)
	assert.Contains(t, sent.Message.SuggestedText, "March 15")
	assert.Equal(t, "https://www.notion.so/"+launchPage+"#5f1c2d3e00004000800000000000000b", sent.Message.DocumentLink)
	assert.Equal(t, "https://acme.slack.com/archives/C1/p1706781600000100", sent.Message.SourceLink)
	assert.Equal(t, "Q2 Launch", sent.Message.DocumentTitle)

	rec, ok := h.store.Delivered(h.fingerprint("launch", "Launch date: March 1"))
	require.True(t, ok)
	assert.Equal(t, model.OutcomeDelivered, rec.Outcome)
	assert.Equal(t, 1, rec.Attempts)

	require.Len(t, h.llm.Prompts, 1)
	assert.Contains(t, h.llm.Prompts[0], "["+launchBlock+"] Launch date: March 1")
	assert.Contains(t, h.llm.Prompts[0], "raj: we pushed launch to March 15")
}

func TestSecondRunSuppressesDeliveredFinding(t *testing.T) {
	h := newHarness(t)

	first := h.monitor.Run(context.Background(), "schedule")
	second := h.monitor.Run(context.Background(), "schedule")

	assert.Equal(t, 1, first.NotificationsSent)
	assert.Equal(t, 0, second.NotificationsSent)
	assert.Equal(t, 0, second.FindingsSurfaced)
	assert.Equal(t, 1, second.Jobs[0].Suppressed)
	assert.Equal(t, model.StageDone, second.Jobs[0].State)
	assert.Equal(t, 1, h.sender.Count())
	assert.Equal(t, 2, h.llm.Calls())
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestEditedBlockIsEligibleAgain(t *testing.T) {
	h := newHarness(t)

	h.monitor.Run(context.Background(), "schedule")
	h.docs.SetBlockText(launchPage, launchBlock, "Launch date: March 8")
	summary := h.monitor.Run(context.Background(), "schedule")

	assert.Equal(t, 1, summary.NotificationsSent)
	assert.Equal(t, 2, h.sender.Count())
	_, ok := h.store.Delivered(h.fingerprint("launch", "Launch date: March 8"))
	assert.True(t, ok)
}

func TestFailedJobDoesNotAffectOthers(t *testing.T) {
	h := newHarness(t)
	broken := launchJob("pricing")
	broken.Document = model.DocumentRef{PageID: pricingPage}
	h.catalog.Jobs = append(h.catalog.Jobs, broken)

	summary := h.monitor.Run(context.Background(), "manual")

	require.Len(t, summary.Jobs, 2)
	assert.Equal(t, model.StageDone, summary.Jobs[0].State)
	failed := summary.Jobs[1]
	assert.Equal(t, model.StageFailed, failed.State)
	require.NotNil(t, failed.Failure)
	assert.Equal(t, model.StageFetching, failed.Failure.Stage)
	assert.Equal(t, string(fault.Permanent), failed.Failure.Kind)
	assert.Equal(t, 1, summary.JobsCompleted)
	assert.Equal(t, 1, summary.JobsFailed)
	assert.Equal(t, 1, h.sender.Count())
	assert.Len(t, summary.Failures(), 1)
}

func TestSharedSourcesFetchedOncePerRun(t *testing.T) {
	h := newHarness(t)
	h.catalog.Jobs = append(h.catalog.Jobs, launchJob("launch-copy"))

	summary := h.monitor.Run(context.Background(), "manual")

	assert.Equal(t, 2, summary.JobsCompleted)
	assert.Equal(t, 1, h.docs.Calls)
	assert.Equal(t, 1, h.chat.Calls)
	// Fingerprints include the job id, so each job notifies once.
	assert.Equal(t, 2, h.sender.Count())

	h.monitor.Run(context.Background(), "manual")
	assert.Equal(t, 2, h.docs.Calls)
}

func TestLowConfidenceFindingIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.llm.Respond = func(context.Context, string) (string, error) {
		return findingResponse(0.4), nil
	}

	summary := h.monitor.Run(context.Background(), "manual")

	job := summary.Jobs[0]
	assert.Equal(t, model.StageDone, job.State)
	assert.Equal(t, 0, job.Findings)
	assert.Equal(t, 1, job.DroppedFindings)
	assert.Zero(t, h.sender.Count())
	assert.Zero(t, h.store.DeliveredCount())
}

func TestUnknownBlockIsDropped(t *testing.T) {
	h := newHarness(t)
	h.llm.Respond = func(context.Context, string) (string, error) {
		return `{"findings":[{"block_id":"nope","claim":"x","suggested_text":"y","confidence":0.9}]}`, nil
	}

	summary := h.monitor.Run(context.Background(), "manual")

	assert.Equal(t, model.StageDone, summary.Jobs[0].State)
	assert.Equal(t, 1, summary.Jobs[0].DroppedFindings)
	assert.Zero(t, h.sender.Count())
}

func TestNoMessagesSkipsAnalysis(t *testing.T) {
	h := newHarness(t)
	h.chat.Messages = map[string][]model.ChatMessage{}

	summary := h.monitor.Run(context.Background(), "manual")

	assert.Equal(t, model.StageDone, summary.Jobs[0].State)
	assert.Zero(t, h.llm.Calls())
	assert.Zero(t, h.sender.Count())
}

func TestUnmappedOwnerIsRetriedNextRun(t *testing.T) {
	h := newHarness(t)
	h.catalog.Jobs[0].OwnerEmail = "new.hire@example.com"

	first := h.monitor.Run(context.Background(), "schedule")

	assert.Equal(t, model.StageDone, first.Jobs[0].State)
	assert.Equal(t, 1, first.Undeliverable)
	assert.Zero(t, h.sender.Count())
	assert.Zero(t, h.store.DeliveredCount())

	h.catalog.Identities = append(h.catalog.Identities,
		model.IdentityRecord{Email: "new.hire@example.com", ChatUserID: "U7"})
	second := h.monitor.Run(context.Background(), "schedule")

	assert.Equal(t, 1, second.NotificationsSent)
	require.Equal(t, 1, h.sender.Count())
	assert.Equal(t, "U7", h.sender.Sent[0].ChatUserID)
}

func TestOwnerFallsBackToOwnerProperty(t *testing.T) {
	h := newHarness(t)
	h.catalog.Jobs[0].OwnerEmail = ""
	h.catalog.Identities = append(h.catalog.Identities,
		model.IdentityRecord{Email: "lee@example.com", DocUserID: "d-9", ChatUserID: "U9"})
	h.docs.Docs[launchPage].Properties = []model.Property{{
		Key:   "Owner",
		Value: model.PropertyValue{Kind: model.KindPeople, People: []model.Person{{ID: "d-9", Name: "Lee"}}},
	}}

	summary := h.monitor.Run(context.Background(), "manual")

	assert.Equal(t, 1, summary.NotificationsSent)
	require.Equal(t, 1, h.sender.Count())
	assert.Equal(t, "U9", h.sender.Sent[0].ChatUserID)
}

func TestDeliveryFailureIsRecordedAndRetriedNextRun(t *testing.T) {
	h := newHarness(t)
	transient := fault.New(fault.Transient, "slack.chat.postMessage", errors.New("502"))
	h.sender.Errs = []error{transient, transient, transient}

	first := h.monitor.Run(context.Background(), "schedule")

	assert.Equal(t, model.StageDone, first.Jobs[0].State)
	assert.Equal(t, 1, first.DeliveryFailures)
	fp := h.fingerprint("launch", "Launch date: March 1")
	failures := h.store.Failures(fp)
	require.Len(t, failures, 1)
	assert.Equal(t, 3, failures[0].Attempts)
	assert.Equal(t, model.OutcomeFailed, failures[0].Outcome)
	assert.Contains(t, failures[0].Error, "transient")
	_, delivered := h.store.Delivered(fp)
	assert.False(t, delivered)

	second := h.monitor.Run(context.Background(), "schedule")
	assert.Equal(t, 1, second.NotificationsSent)
}

func TestRunDeadlineFailsStageWithTimeout(t *testing.T) {
	h := newHarness(t)
	h.monitor.Options.RunTimeout = 50 * time.Millisecond
	h.llm.Respond = func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	summary := h.monitor.Run(context.Background(), "manual")

	job := summary.Jobs[0]
	assert.Equal(t, model.StageFailed, job.State)
	require.NotNil(t, job.Failure)
	assert.Equal(t, model.StageAnalyzing, job.Failure.Stage)
	assert.Equal(t, string(fault.Timeout), job.Failure.Kind)
	assert.Zero(t, h.sender.Count())
}

func TestDeliveryFinishingAfterDeadlineIsMarked(t *testing.T) {
	h := newHarness(t)
	mr := miniredis.RunT(t)
	redisStore := store.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "dw-test")
	t.Cleanup(func() { _ = redisStore.Close() })
	h.monitor.Store = redisStore
	h.monitor.Options.RunTimeout = 50 * time.Millisecond
	h.sender.Delay = 80 * time.Millisecond

	first := h.monitor.Run(context.Background(), "schedule")
	require.Len(t, first.Jobs, 1)
	assert.Equal(t, model.StageDone, first.Jobs[0].State)
	assert.Equal(t, 1, first.Jobs[0].Notified)
	assert.Equal(t, 1, h.sender.Count())

	rec, ok, err := redisStore.Delivered(context.Background(), h.fingerprint("launch", "Launch date: March 1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.OutcomeDelivered, rec.Outcome)

	h.monitor.Options.RunTimeout = 0
	h.sender.Delay = 0
	second := h.monitor.Run(context.Background(), "schedule")
	require.Len(t, second.Jobs, 1)
	assert.Equal(t, 0, second.Jobs[0].Notified)
	assert.Equal(t, 1, second.Jobs[0].Suppressed)
	assert.Equal(t, 1, h.sender.Count())
}

func TestOversizedDocumentFailsAnalyzing(t *testing.T) {
	h := newHarness(t)
	h.monitor.Analyzer.Config.MaxPromptChars = 10

	summary := h.monitor.Run(context.Background(), "manual")

	job := summary.Jobs[0]
	assert.Equal(t, model.StageFailed, job.State)
	require.NotNil(t, job.Failure)
	assert.Equal(t, model.StageAnalyzing, job.Failure.Stage)
	assert.Equal(t, string(fault.Validation), job.Failure.Kind)
	assert.Equal(t, 1, job.TruncatedThreads)
	assert.Equal(t, 0, h.llm.Calls())
}

func TestMalformedResponseFailsAnalyzing(t *testing.T) {
	h := newHarness(t)
	h.llm.Respond = func(context.Context, string) (string, error) {
		return "I could not decide.", nil
	}

	summary := h.monitor.Run(context.Background(), "manual")

	job := summary.Jobs[0]
	require.NotNil(t, job.Failure)
	assert.Equal(t, model.StageAnalyzing, job.Failure.Stage)
	assert.Equal(t, string(fault.Validation), job.Failure.Kind)
	assert.Equal(t, 3, h.llm.Calls())
}

func TestPanickingSourceFailsOnlyThatJob(t *testing.T) {
	h := newHarness(t)
	h.docs.PanicOn = pricingPage
	h.docs.Docs[pricingPage] = launchDocument()
	broken := launchJob("pricing")
	broken.Document = model.DocumentRef{PageID: pricingPage}
	h.catalog.Jobs = append(h.catalog.Jobs, broken)

	summary := h.monitor.Run(context.Background(), "manual")

	require.Len(t, summary.Jobs, 2)
	assert.Equal(t, model.StageDone, summary.Jobs[0].State)
	require.NotNil(t, summary.Jobs[1].Failure)
	assert.Equal(t, model.StageFetching, summary.Jobs[1].Failure.Stage)
	assert.Equal(t, string(fault.Internal), summary.Jobs[1].Failure.Kind)
}

func TestCatalogErrorAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.monitor.Catalog = func() (config.Catalog, error) {
		return config.Catalog{}, errors.New("duplicate id")
	}

	summary := h.monitor.Run(context.Background(), "manual")

	assert.Contains(t, summary.Error, "duplicate id")
	assert.Empty(t, summary.Jobs)
	assert.False(t, summary.FinishedAt.IsZero())
}

type recorder struct {
	mu      sync.Mutex
	started int
	runs    []model.RunSummary
}

func (r *recorder) RunStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recorder) RecordRun(s model.RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, s)
}

func TestRecorderSeesFinishedRun(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}
	h.monitor.Recorder = rec

	summary := h.monitor.Run(context.Background(), "manual")

	require.Len(t, rec.runs, 1)
	assert.Equal(t, 1, rec.started)
	assert.Equal(t, summary.RunID, rec.runs[0].RunID)
	assert.False(t, rec.runs[0].FinishedAt.IsZero())
}

// Package core runs monitoring jobs end to end: fetch, normalize, analyze,
// de-duplicate and notify.
package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/agenthands/driftwatch/internal/config"
	"github.com/agenthands/driftwatch/internal/core/analysis"
	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/core/normalize"
	"github.com/agenthands/driftwatch/internal/fault"
	"github.com/agenthands/driftwatch/internal/identity"
	"github.com/agenthands/driftwatch/internal/logging"
	"github.com/agenthands/driftwatch/internal/notify"
	"github.com/agenthands/driftwatch/internal/source"
	"github.com/agenthands/driftwatch/internal/store"
)

// CatalogLoader returns the jobs and identities for one run.
type CatalogLoader func() (config.Catalog, error)

// StaticCatalog always returns c.
func StaticCatalog(c config.Catalog) CatalogLoader {
	return func() (config.Catalog, error) { return c, nil }
}

// FileCatalog re-reads the catalog from path on every run.
func FileCatalog(path string) CatalogLoader {
	return func() (config.Catalog, error) { return config.LoadCatalog(path) }
}

// Recorder receives every finished run.
type Recorder interface {
	RunStarted()
	RecordRun(model.RunSummary)
}

type Options struct {
	JobConcurrency    int
	LLMConcurrency    int
	NotifyConcurrency int
	// RunTimeout bounds a whole run; zero means no deadline.
	RunTimeout time.Duration
	// OwnerProperty names the people property used when a job has no
	// mapped owner email.
	OwnerProperty string
	// WorkspaceURL enables permalinks to supporting chat messages.
	WorkspaceURL string
}

type Monitor struct {
	Catalog    CatalogLoader
	Sources    *source.Sources
	Normalizer *normalize.Normalizer
	Analyzer   *analysis.Analyzer
	Store      store.Store
	Dispatcher *notify.Dispatcher
	Recorder   Recorder
	Options    Options
	Logger     logging.Logger

	llmSem    *semaphore.Weighted
	notifySem *semaphore.Weighted
	now       func() time.Time
}

func NewMonitor(
	catalog CatalogLoader,
	sources *source.Sources,
	normalizer *normalize.Normalizer,
	analyzer *analysis.Analyzer,
	findings store.Store,
	dispatcher *notify.Dispatcher,
	opts Options,
	logger logging.Logger,
) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if normalizer == nil {
		normalizer = normalize.New(time.UTC)
	}
	if opts.OwnerProperty == "" {
		opts.OwnerProperty = "Owner"
	}
	return &Monitor{
		Catalog:    catalog,
		Sources:    sources,
		Normalizer: normalizer,
		Analyzer:   analyzer,
		Store:      findings,
		Dispatcher: dispatcher,
		Options:    opts,
		Logger:     logger,
		llmSem:     semaphore.NewWeighted(atLeastOne(opts.LLMConcurrency)),
		notifySem:  semaphore.NewWeighted(atLeastOne(opts.NotifyConcurrency)),
		now:        time.Now,
	}
}

func atLeastOne(n int) int64 {
	if n < 1 {
		return 1
	}
	return int64(n)
}

// run is the state shared by the jobs of one run.
type run struct {
	id       string
	cache    *source.RunCache
	registry *identity.Registry
	log      logging.Entry
}

// Run executes every job once and returns the summary. It never returns an
// error: catalog problems land in RunSummary.Error, job problems in the job's
// Failure.
func (m *Monitor) Run(ctx context.Context, trigger string) (summary model.RunSummary) {
	summary = model.RunSummary{
		RunID:     uuid.New().String(),
		Trigger:   trigger,
		StartedAt: m.now().UTC(),
	}
	log := m.Logger.WithFields(logging.Fields{"run_id": summary.RunID, "trigger": trigger})
	if m.Recorder != nil {
		m.Recorder.RunStarted()
	}
	defer func() {
		summary.FinishedAt = m.now().UTC()
		if m.Recorder != nil {
			m.Recorder.RecordRun(summary)
		}
	}()

	catalog, err := m.Catalog()
	if err != nil {
		summary.Error = fmt.Sprintf("failed to load catalog: %v", err)
		log.WithError(err).Error("Run aborted")
		return summary
	}

	if m.Options.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Options.RunTimeout)
		defer cancel()
	}

	r := &run{
		id:       summary.RunID,
		cache:    m.Sources.NewRun(),
		registry: identity.NewRegistry(catalog.Identities),
		log:      log,
	}
	log.WithFields(logging.Fields{
		"jobs":       len(catalog.Jobs),
		"identities": r.registry.Len(),
	}).Info("Run started")

	results := make([]model.JobResult, len(catalog.Jobs))
	var g errgroup.Group
	g.SetLimit(int(atLeastOne(m.Options.JobConcurrency)))
	for i, job := range catalog.Jobs {
		i, job := i, job
		g.Go(func() error {
			results[i] = m.runJob(ctx, r, job)
			return nil
		})
	}
	_ = g.Wait()

	summary.Jobs = results
	summary.Tally()
	log.WithFields(logging.Fields{
		"completed":     summary.JobsCompleted,
		"failed":        summary.JobsFailed,
		"surfaced":      summary.FindingsSurfaced,
		"notified":      summary.NotificationsSent,
		"undeliverable": summary.Undeliverable,
		"delivery_fail": summary.DeliveryFailures,
	}).Info("Run finished")
	return summary
}

// jobState tracks one job through its stages.
type jobState struct {
	result model.JobResult
	stage  model.Stage
	log    logging.Entry
}

func (s *jobState) enter(stage model.Stage) {
	s.stage = stage
	s.result.State = stage
}

func (s *jobState) fail(ctx context.Context, err error) {
	kind := fault.KindOf(err)
	if ctx.Err() != nil {
		kind = fault.Timeout
	}
	s.result.State = model.StageFailed
	s.result.Failure = &model.Failure{Stage: s.stage, Kind: string(kind), Message: err.Error()}
	s.log.WithFields(logging.Fields{"stage": s.stage, "kind": kind}).WithError(err).Error("Job failed")
}

func (m *Monitor) runJob(ctx context.Context, r *run, job model.MonitoringJob) (result model.JobResult) {
	st := &jobState{
		result: model.JobResult{JobID: job.ID, Name: job.Name, State: model.StagePending},
		stage:  model.StagePending,
		log:    r.log.WithField("job_id", job.ID),
	}
	defer func() {
		if p := recover(); p != nil {
			st.log.WithField("stack", string(debug.Stack())).Error("Job panicked")
			st.fail(context.Background(), fault.Errorf(fault.Internal, "core.runJob", "panic: %v", p))
		}
		result = st.result
	}()

	st.enter(model.StageFetching)
	doc, messages, err := m.fetch(ctx, r.cache, job)
	if err != nil {
		st.fail(ctx, err)
		return
	}
	set := model.GroupThreads(messages)
	st.result.Messages = set.Len()
	st.result.Orphans = len(set.Orphans)
	if set.Len() == 0 {
		st.log.Debug("No messages in window; skipping analysis")
		st.enter(model.StageDone)
		return
	}

	st.enter(model.StageAnalyzing)
	canonical := m.Normalizer.Document(doc)
	chunks := m.Normalizer.Threads(set, r.registry.ChatName)
	analysisResult, err := m.analyze(ctx, analysis.Request{
		JobID:       job.ID,
		Document:    canonical,
		Threads:     chunks,
		MessageRefs: set.Refs(),
	})
	st.result.TruncatedThreads = analysisResult.TruncatedThreads
	st.result.DroppedFindings = analysisResult.Dropped + analysisResult.BelowThreshold
	if err != nil {
		st.fail(ctx, err)
		return
	}

	st.enter(model.StageDeduping)
	fresh, err := m.dedupe(ctx, job, canonical, analysisResult.Findings, st)
	if err != nil {
		st.fail(ctx, err)
		return
	}
	st.result.Findings = len(fresh)

	st.enter(model.StageNotifying)
	if err := m.notify(ctx, r, job, doc, set, fresh, st); err != nil {
		st.fail(ctx, err)
		return
	}
	st.enter(model.StageDone)
	return
}

// fetch loads the document and every channel concurrently. Messages keep
// channel order.
func (m *Monitor) fetch(ctx context.Context, cache *source.RunCache, job model.MonitoringJob) (*model.Document, []model.ChatMessage, error) {
	g, gctx := errgroup.WithContext(ctx)
	var doc *model.Document
	perChannel := make([][]model.ChatMessage, len(job.Channels))

	g.Go(guard("core.fetchDocument", func() error {
		d, err := cache.Document(gctx, job.Document)
		if err != nil {
			return fmt.Errorf("failed to fetch document %s: %w", job.Document.PageID, err)
		}
		doc = d
		return nil
	}))
	for i, ch := range job.Channels {
		i, ch := i, ch
		g.Go(guard("core.fetchChannel", func() error {
			msgs, err := cache.Channel(gctx, ch)
			if err != nil {
				return fmt.Errorf("failed to fetch channel %s: %w", ch.ID, err)
			}
			perChannel[i] = msgs
			return nil
		}))
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var messages []model.ChatMessage
	for _, msgs := range perChannel {
		messages = append(messages, msgs...)
	}
	return doc, messages, nil
}

// guard turns a panic in a fetch goroutine into an internal error; the
// job-level recover cannot see other goroutines.
func guard(op string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fault.Errorf(fault.Internal, op, "panic: %v", p)
			}
		}()
		return fn()
	}
}

func (m *Monitor) analyze(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	if err := m.llmSem.Acquire(ctx, 1); err != nil {
		return analysis.Result{}, fault.New(fault.Timeout, "core.analyze", err)
	}
	defer m.llmSem.Release(1)
	return m.Analyzer.Analyze(ctx, req)
}

// candidate is a finding that survived de-duplication.
type candidate struct {
	finding     model.ConflictFinding
	fingerprint model.Fingerprint
}

func (m *Monitor) dedupe(ctx context.Context, job model.MonitoringJob, doc normalize.Canonical, findings []model.ConflictFinding, st *jobState) ([]candidate, error) {
	seen := make(map[model.Fingerprint]bool, len(findings))
	var fresh []candidate
	for _, f := range findings {
		block, ok := doc.Block(f.BlockID)
		if !ok {
			// The analyzer already resolved ids against this index.
			return nil, fault.Errorf(fault.Internal, "core.dedupe", "block %s missing from index", f.BlockID)
		}
		fp := model.FingerprintOf(job.ID, f.BlockID, block.Text, f.Claim)
		if seen[fp] {
			st.result.Suppressed++
			continue
		}
		seen[fp] = true

		isNew, err := m.Store.IsNew(ctx, fp)
		if err != nil {
			return nil, fmt.Errorf("failed to check fingerprint %s: %w", fp, err)
		}
		if !isNew {
			st.result.Suppressed++
			st.log.WithField("fingerprint", fp).Debug("Finding already delivered")
			continue
		}
		fresh = append(fresh, candidate{finding: f, fingerprint: fp})
	}
	return fresh, nil
}

func (m *Monitor) notify(ctx context.Context, r *run, job model.MonitoringJob, doc *model.Document, set model.ThreadSet, fresh []candidate, st *jobState) error {
	if len(fresh) == 0 {
		return nil
	}
	owner := m.ownerEmail(r.registry, job, doc)
	byRef := messagesByRef(set)

	for _, c := range fresh {
		if msg, ok := byRef[c.finding.SourceRef]; ok {
			c.finding.SourceLink = notify.MessageLink(m.Options.WorkspaceURL, msg)
		}
		log := st.log.WithField("fingerprint", c.fingerprint)

		if err := m.notifySem.Acquire(ctx, 1); err != nil {
			return fault.New(fault.Timeout, "core.notify", err)
		}
		delivery := m.Dispatcher.Deliver(ctx, r.registry, owner, notify.NewMessage(job, doc, c.finding))
		m.notifySem.Release(1)

		rec := model.NotificationRecord{
			Fingerprint: c.fingerprint,
			JobID:       job.ID,
			BlockID:     c.finding.BlockID,
			DeliveredAt: m.now().UTC(),
			Outcome:     delivery.Outcome,
			Attempts:    delivery.Attempts,
		}
		switch delivery.Outcome {
		case model.OutcomeDelivered:
			st.result.Notified++
			if err := m.Store.MarkDelivered(context.WithoutCancel(ctx), rec); err != nil {
				// The owner got the message; a later run may repeat it.
				log.WithError(err).Warn("Failed to mark finding delivered")
			}
		case model.OutcomeUndeliverable:
			st.result.Undeliverable++
			log.WithField("owner", owner).WithError(delivery.Err).Warn("Finding undeliverable; owner has no chat mapping")
		default:
			if ctx.Err() != nil {
				return fmt.Errorf("delivery interrupted: %w", delivery.Err)
			}
			st.result.DeliveryFailures++
			rec.Error = errorText(delivery.Err)
			if err := m.Store.RecordFailure(ctx, rec); err != nil {
				log.WithError(err).Warn("Failed to record delivery failure")
			}
		}
	}
	return nil
}

// ownerEmail prefers the job's owner when it is mapped, then the first mapped
// person in the document's owner property, then the job's owner as given.
func (m *Monitor) ownerEmail(reg *identity.Registry, job model.MonitoringJob, doc *model.Document) string {
	if job.OwnerEmail != "" {
		if _, ok := reg.ByEmail(job.OwnerEmail); ok {
			return job.OwnerEmail
		}
	}
	if doc != nil {
		if v, ok := doc.Property(m.Options.OwnerProperty); ok && v.Kind == model.KindPeople {
			if rec, ok := reg.OwnerFromPeople(v.People); ok {
				return rec.Email
			}
		}
	}
	return job.OwnerEmail
}

func messagesByRef(set model.ThreadSet) map[string]model.ChatMessage {
	byRef := make(map[string]model.ChatMessage, set.Len())
	for _, t := range set.Threads {
		byRef[t.Root.Ref()] = t.Root
		for _, r := range t.Replies {
			byRef[r.Ref()] = r
		}
	}
	for _, o := range set.Orphans {
		for _, r := range o.Replies {
			byRef[r.Ref()] = r
		}
	}
	return byRef
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Err != nil {
		return fmt.Sprintf("%s: %v", fe.Kind, fe.Err)
	}
	return err.Error()
}

// Package analysis asks the reasoning backend where chat discussion
// contradicts a document and validates what comes back.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/core/normalize"
	"github.com/agenthands/driftwatch/internal/fault"
	"github.com/agenthands/driftwatch/internal/llm"
	"github.com/agenthands/driftwatch/internal/logging"
	"github.com/agenthands/driftwatch/internal/retry"
)

type Config struct {
	// Prompt is a template with two %s verbs: document, then discussion.
	Prompt         string
	MinConfidence  float64
	MaxPromptChars int
}

type Analyzer struct {
	LLM    llm.LLMClient
	Policy *retry.Policy
	Config Config
	Logger logging.Logger
}

func NewAnalyzer(client llm.LLMClient, policy *retry.Policy, cfg Config, logger logging.Logger) *Analyzer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if policy == nil {
		policy = retry.New("llm", retry.DefaultConfig(), logger)
	}
	return &Analyzer{LLM: client, Policy: policy, Config: cfg, Logger: logger}
}

// Request is everything one analysis call needs.
type Request struct {
	JobID    string
	Document normalize.Canonical
	Threads  []normalize.ThreadChunk
	// MessageRefs are the refs a finding may cite as its source.
	MessageRefs map[string]bool
}

// Result holds the findings that passed validation and the confidence floor.
type Result struct {
	Findings         []model.ConflictFinding
	Dropped          int
	BelowThreshold   int
	TruncatedThreads int
}

// Analyze makes one backend call for the job. Errors are fault-classified;
// an exhausted retry on malformed output is a fault.Validation.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (Result, error) {
	prompt, kept, truncated := buildPrompt(a.Config.Prompt, req.Document.Text, req.Threads, a.Config.MaxPromptChars)
	res := Result{TruncatedThreads: truncated}
	log := a.Logger.WithField("job_id", req.JobID)
	if truncated > 0 {
		log.WithField("dropped_threads", truncated).Warn("Prompt over budget; oldest threads dropped")
	}
	if len(kept) == 0 {
		if len(req.Threads) == 0 {
			return res, nil
		}
		log.WithFields(logging.Fields{
			"document_chars":   len(req.Document.Text),
			"max_prompt_chars": a.Config.MaxPromptChars,
		}).Warn("Document alone exceeds the prompt budget")
		return res, fault.Errorf(fault.Validation, "analysis.budget",
			"document is %d chars, over max_prompt_chars %d", len(req.Document.Text), a.Config.MaxPromptChars)
	}

	raws, err := retry.Get(ctx, a.Policy, func(ctx context.Context) ([]json.RawMessage, error) {
		response, err := a.LLM.Generate(ctx, prompt)
		if err != nil {
			return nil, err
		}
		list, err := parseResponse(response)
		if err != nil {
			log.WithError(err).Warn("Unparseable analyzer response")
			return nil, fault.New(fault.Transient, "analysis.parse", err)
		}
		return list, nil
	})
	if err != nil {
		if errors.Is(err, ErrMalformedResponse) {
			return res, fault.New(fault.Validation, "analysis.Analyze", err)
		}
		return res, fmt.Errorf("failed to analyze job %s: %w", req.JobID, err)
	}

	aliases := blockAliases(req.Document)
	for i, raw := range raws {
		finding, err := a.validate(req, aliases, raw)
		if err != nil {
			res.Dropped++
			log.WithFields(logging.Fields{"index": i}).WithError(err).Info("Dropped invalid finding")
			continue
		}
		if finding.Confidence < a.Config.MinConfidence {
			res.BelowThreshold++
			continue
		}
		res.Findings = append(res.Findings, finding)
	}

	log.WithFields(logging.Fields{
		"findings":        len(res.Findings),
		"dropped":         res.Dropped,
		"below_threshold": res.BelowThreshold,
	}).Debug("Analysis complete")
	return res, nil
}

func (a *Analyzer) validate(req Request, aliases map[string]string, raw json.RawMessage) (model.ConflictFinding, error) {
	f, err := decodeFinding(raw)
	if err != nil {
		return model.ConflictFinding{}, fault.New(fault.Validation, "analysis.decode", err)
	}
	if strings.TrimSpace(f.Claim) == "" {
		return model.ConflictFinding{}, fault.Errorf(fault.Validation, "analysis.validate", "missing claim")
	}
	if strings.TrimSpace(f.SuggestedText) == "" {
		return model.ConflictFinding{}, fault.Errorf(fault.Validation, "analysis.validate", "missing suggested_text")
	}
	blockID, ok := aliases[dashless(f.BlockID)]
	if !ok {
		return model.ConflictFinding{}, fault.Errorf(fault.Validation, "analysis.validate", "unknown block id %q", f.BlockID)
	}
	confidence, err := parseConfidence(f.Confidence)
	if err != nil {
		return model.ConflictFinding{}, fault.New(fault.Validation, "analysis.validate", err)
	}

	sourceRef := f.SourceRef
	if sourceRef != "" && !req.MessageRefs[sourceRef] {
		sourceRef = ""
	}
	current := f.CurrentText
	if current == "" {
		current = req.Document.Index[blockID].Text
	}

	return model.ConflictFinding{
		JobID:         req.JobID,
		BlockID:       blockID,
		Claim:         strings.TrimSpace(f.Claim),
		Confidence:    confidence,
		SuggestedText: strings.TrimSpace(f.SuggestedText),
		CurrentText:   strings.TrimSpace(current),
		Reasoning:     strings.TrimSpace(f.Reasoning),
		SourceRef:     sourceRef,
	}, nil
}

// blockAliases maps dash-less, lower-cased ids to the ids in the index, so a
// backend that reformats UUIDs still resolves.
func blockAliases(doc normalize.Canonical) map[string]string {
	aliases := make(map[string]string, len(doc.Index))
	for id := range doc.Index {
		aliases[dashless(id)] = id
	}
	return aliases
}

func dashless(id string) string {
	return strings.ToLower(strings.ReplaceAll(id, "-", ""))
}

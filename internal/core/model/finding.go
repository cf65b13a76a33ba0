package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// ConflictFinding is one potential conflict between chat discussion and a
// document block, as reported by the analyzer.
type ConflictFinding struct {
	JobID         string  `json:"job_id"`
	BlockID       string  `json:"block_id"`
	Claim         string  `json:"claim"`
	Confidence    float64 `json:"confidence"`
	SuggestedText string  `json:"suggested_text"`
	CurrentText   string  `json:"current_text,omitempty"`
	Reasoning     string  `json:"reasoning,omitempty"`
	SourceRef     string  `json:"source_ref,omitempty"`
	SourceLink    string  `json:"source_link,omitempty"`
}

// Fingerprint is the de-duplication key of a finding.
type Fingerprint string

// FingerprintOf hashes the job id, block id, the block's canonical text and
// the normalized claim. Editing the block changes the fingerprint.
func FingerprintOf(jobID, blockID, blockText, claim string) Fingerprint {
	h := sha256.New()
	for _, part := range []string{jobID, blockID, blockText, NormalizeClaim(claim)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// NormalizeClaim lower-cases the claim, turns punctuation into spaces and
// collapses whitespace, so cosmetic differences do not defeat de-duplication.
func NormalizeClaim(claim string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, claim)
	return strings.Join(strings.Fields(mapped), " ")
}

// DeliveryOutcome is the terminal result of one delivery attempt sequence.
type DeliveryOutcome string

const (
	OutcomeDelivered     DeliveryOutcome = "delivered"
	OutcomeUndeliverable DeliveryOutcome = "undeliverable"
	OutcomeFailed        DeliveryOutcome = "failed"
)

// NotificationRecord is persisted once per delivered or terminally failed
// finding.
type NotificationRecord struct {
	Fingerprint Fingerprint     `json:"fingerprint"`
	JobID       string          `json:"job_id"`
	BlockID     string          `json:"block_id"`
	DeliveredAt time.Time       `json:"delivered_at"`
	Outcome     DeliveryOutcome `json:"outcome"`
	Attempts    int             `json:"attempts,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Package identity resolves people across the document and chat systems.
package identity

import (
	"strings"

	"github.com/agenthands/driftwatch/internal/core/model"
)

// Registry is an immutable lookup over identity records. It is built once per
// run from the catalog and is safe for concurrent use.
type Registry struct {
	byEmail     map[string]model.IdentityRecord
	byChatID    map[string]model.IdentityRecord
	byDocUserID map[string]model.IdentityRecord
}

// NewRegistry indexes records. Later duplicates are ignored; the catalog
// loader rejects them before this point.
func NewRegistry(records []model.IdentityRecord) *Registry {
	r := &Registry{
		byEmail:     make(map[string]model.IdentityRecord, len(records)),
		byChatID:    make(map[string]model.IdentityRecord, len(records)),
		byDocUserID: make(map[string]model.IdentityRecord, len(records)),
	}
	for _, rec := range records {
		key := normalizeEmail(rec.Email)
		if key == "" {
			continue
		}
		if _, dup := r.byEmail[key]; dup {
			continue
		}
		rec.Email = key
		r.byEmail[key] = rec
		if rec.ChatUserID != "" {
			r.byChatID[rec.ChatUserID] = rec
		}
		if rec.DocUserID != "" {
			r.byDocUserID[rec.DocUserID] = rec
		}
	}
	return r
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ByEmail looks up a record by email, case-insensitively.
func (r *Registry) ByEmail(email string) (model.IdentityRecord, bool) {
	rec, ok := r.byEmail[normalizeEmail(email)]
	return rec, ok
}

// ByChatID looks up a record by chat user id.
func (r *Registry) ByChatID(id string) (model.IdentityRecord, bool) {
	rec, ok := r.byChatID[id]
	return rec, ok
}

// ByDocUserID looks up a record by document-system user id.
func (r *Registry) ByDocUserID(id string) (model.IdentityRecord, bool) {
	rec, ok := r.byDocUserID[id]
	return rec, ok
}

// ChatName returns the display name for a chat author, or the raw id when the
// author is not mapped.
func (r *Registry) ChatName(id string) string {
	if rec, ok := r.byChatID[id]; ok {
		return rec.DisplayName()
	}
	return id
}

// Len returns the number of indexed records.
func (r *Registry) Len() int {
	return len(r.byEmail)
}

// OwnerFromPeople picks the first person in a people property that maps to a
// known identity, by document user id first and email second.
func (r *Registry) OwnerFromPeople(people []model.Person) (model.IdentityRecord, bool) {
	for _, p := range people {
		if rec, ok := r.ByDocUserID(p.ID); ok {
			return rec, true
		}
		if p.Email != "" {
			if rec, ok := r.ByEmail(p.Email); ok {
				return rec, true
			}
		}
	}
	return model.IdentityRecord{}, false
}

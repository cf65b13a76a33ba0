package identity

import (
	"sort"
	"strings"

	"github.com/agenthands/driftwatch/internal/core/model"
)

// ChatAccount is a chat workspace member as seen by the mapping generator.
type ChatAccount struct {
	ID    string
	Name  string
	Email string
}

// MatchReport describes how a Join went.
type MatchReport struct {
	ByEmail   int
	ByName    int
	ChatOnly  int
	DocOnly   []string
	Ambiguous []string
}

// Join pairs chat accounts with document users. Email matches first; people
// without a usable email are paired by display name when exactly one account
// on each side carries it. Chat accounts without an email are skipped since
// records are keyed by email. Output is sorted by email.
func Join(chat []ChatAccount, docs []model.Person) ([]model.IdentityRecord, MatchReport) {
	var report MatchReport
	records := make(map[string]*model.IdentityRecord)
	chatByName := make(map[string][]ChatAccount)

	for _, c := range chat {
		email := normalizeEmail(c.Email)
		chatByName[nameKey(c.Name)] = append(chatByName[nameKey(c.Name)], c)
		if email == "" {
			continue
		}
		records[email] = &model.IdentityRecord{Email: email, ChatUserID: c.ID, ChatName: c.Name}
	}

	docByName := make(map[string]int)
	for _, p := range docs {
		docByName[nameKey(p.Name)]++
	}

	for _, p := range docs {
		if rec, ok := records[normalizeEmail(p.Email)]; ok && p.Email != "" {
			rec.DocUserID, rec.DocName = p.ID, p.Name
			report.ByEmail++
			continue
		}
		key := nameKey(p.Name)
		candidates := chatByName[key]
		switch {
		case key == "" || len(candidates) == 0:
			report.DocOnly = append(report.DocOnly, p.Name)
			if email := normalizeEmail(p.Email); email != "" {
				records[email] = &model.IdentityRecord{Email: email, DocUserID: p.ID, DocName: p.Name}
			}
		case len(candidates) > 1 || docByName[key] > 1:
			report.Ambiguous = append(report.Ambiguous, p.Name)
		default:
			c := candidates[0]
			email := normalizeEmail(c.Email)
			if email == "" {
				email = normalizeEmail(p.Email)
			}
			if email == "" {
				report.Ambiguous = append(report.Ambiguous, p.Name)
				continue
			}
			rec, ok := records[email]
			if !ok {
				rec = &model.IdentityRecord{Email: email, ChatUserID: c.ID, ChatName: c.Name}
				records[email] = rec
			}
			rec.DocUserID, rec.DocName = p.ID, p.Name
			report.ByName++
		}
	}

	out := make([]model.IdentityRecord, 0, len(records))
	for _, rec := range records {
		if rec.DocUserID == "" {
			report.ChatOnly++
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	sort.Strings(report.DocOnly)
	sort.Strings(report.Ambiguous)
	return out, report
}

func nameKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/agenthands/driftwatch/internal/core/model"
)

// JobConfig is the file form of a monitoring job. Document takes a page id or
// a Notion URL.
type JobConfig struct {
	ID         string   `toml:"id" validate:"required_without=Name"`
	Name       string   `toml:"name"`
	Document   string   `toml:"document" validate:"required"`
	Channels   []string `toml:"channels" validate:"required,min=1,dive,required"`
	OwnerEmail string   `toml:"owner_email" validate:"omitempty,email"`
}

// IdentityConfig is the file form of an identity record.
type IdentityConfig struct {
	Email      string `toml:"email" validate:"required,email"`
	DocUserID  string `toml:"doc_user_id"`
	DocName    string `toml:"doc_name"`
	ChatUserID string `toml:"chat_user_id"`
	ChatName   string `toml:"chat_name"`
}

// Catalog is the validated set of jobs and identities used by one run.
type Catalog struct {
	Jobs       []model.MonitoringJob
	Identities []model.IdentityRecord
}

type catalogFile struct {
	Jobs       []JobConfig      `toml:"jobs"`
	Identities []IdentityConfig `toml:"identities"`
}

// LoadCatalog reads only the [[jobs]] and [[identities]] tables of a config
// file and validates them. It is called at the start of every run.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read catalog '%s': %w", path, err)
	}
	var f catalogFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse catalog TOML: %w", err)
	}
	return BuildCatalog(f.Jobs, f.Identities)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// BuildCatalog validates file entries and converts them to model types.
// Job order is preserved.
func BuildCatalog(jobs []JobConfig, identities []IdentityConfig) (Catalog, error) {
	var cat Catalog

	seenJobs := make(map[string]bool, len(jobs))
	for i, j := range jobs {
		if err := validate.Struct(j); err != nil {
			return Catalog{}, fmt.Errorf("invalid job #%d (%s): %w", i+1, j.Name, err)
		}
		id := j.ID
		if id == "" {
			id = slug(j.Name)
		}
		if id == "" {
			return Catalog{}, fmt.Errorf("invalid job #%d: id cannot be derived from name %q", i+1, j.Name)
		}
		if seenJobs[id] {
			return Catalog{}, fmt.Errorf("invalid job #%d: duplicate id %q", i+1, id)
		}
		seenJobs[id] = true

		ref, ok := model.ParseDocumentRef(j.Document)
		if !ok {
			return Catalog{}, fmt.Errorf("invalid job %q: no page id in document %q", id, j.Document)
		}

		job := model.MonitoringJob{
			ID:         id,
			Name:       j.Name,
			Document:   ref,
			OwnerEmail: strings.ToLower(strings.TrimSpace(j.OwnerEmail)),
		}
		if job.Name == "" {
			job.Name = id
		}
		seenChannels := make(map[string]bool, len(j.Channels))
		for _, ch := range j.Channels {
			ch = strings.TrimSpace(ch)
			if seenChannels[ch] {
				continue
			}
			seenChannels[ch] = true
			job.Channels = append(job.Channels, model.ChannelRef{ID: ch})
		}
		cat.Jobs = append(cat.Jobs, job)
	}

	seenEmails := make(map[string]bool, len(identities))
	seenChat := make(map[string]string, len(identities))
	for i, ident := range identities {
		if err := validate.Struct(ident); err != nil {
			return Catalog{}, fmt.Errorf("invalid identity #%d: %w", i+1, err)
		}
		email := strings.ToLower(strings.TrimSpace(ident.Email))
		if seenEmails[email] {
			return Catalog{}, fmt.Errorf("invalid identity #%d: duplicate email %q", i+1, email)
		}
		seenEmails[email] = true
		if ident.ChatUserID != "" {
			if other, ok := seenChat[ident.ChatUserID]; ok {
				return Catalog{}, fmt.Errorf("invalid identity %q: chat user %s already mapped to %q", email, ident.ChatUserID, other)
			}
			seenChat[ident.ChatUserID] = email
		}
		cat.Identities = append(cat.Identities, model.IdentityRecord{
			Email:      email,
			DocUserID:  ident.DocUserID,
			DocName:    ident.DocName,
			ChatUserID: ident.ChatUserID,
			ChatName:   ident.ChatName,
		})
	}

	return cat, nil
}

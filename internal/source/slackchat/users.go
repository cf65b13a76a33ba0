package slackchat

import (
	"context"
	"strings"

	"github.com/slack-go/slack"

	"github.com/agenthands/driftwatch/internal/retry"
)

// User is a human workspace member.
type User struct {
	ID          string
	Name        string
	RealName    string
	DisplayName string
	Email       string
}

// ListUsers returns active, non-bot members. slack-go pages internally.
func (f *Fetcher) ListUsers(ctx context.Context) ([]User, error) {
	members, err := retry.Get(ctx, f.policy, func(ctx context.Context) ([]slack.User, error) {
		users, err := f.client.GetUsersContext(ctx)
		return users, Classify(ctx, "slack.users.list", err)
	})
	if err != nil {
		return nil, err
	}

	users := make([]User, 0, len(members))
	for _, m := range members {
		if m.Deleted || m.IsBot || m.ID == "USLACKBOT" {
			continue
		}
		users = append(users, User{
			ID:          m.ID,
			Name:        m.Name,
			RealName:    m.RealName,
			DisplayName: m.Profile.DisplayName,
			Email:       strings.ToLower(m.Profile.Email),
		})
	}
	return users, nil
}

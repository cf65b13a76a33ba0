package model

// IdentityRecord maps one person across the document and chat systems.
type IdentityRecord struct {
	Email      string `json:"email" toml:"email"`
	DocUserID  string `json:"doc_user_id,omitempty" toml:"doc_user_id,omitempty"`
	DocName    string `json:"doc_name,omitempty" toml:"doc_name,omitempty"`
	ChatUserID string `json:"chat_user_id,omitempty" toml:"chat_user_id,omitempty"`
	ChatName   string `json:"chat_name,omitempty" toml:"chat_name,omitempty"`
}

// DisplayName prefers the chat name, then the document name, then the email.
func (r IdentityRecord) DisplayName() string {
	switch {
	case r.ChatName != "":
		return r.ChatName
	case r.DocName != "":
		return r.DocName
	default:
		return r.Email
	}
}

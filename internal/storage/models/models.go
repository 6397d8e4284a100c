package models

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Session is one persisted research conversation. QueryHash is fixed at
// creation; renaming only changes Query.
type Session struct {
	ID         string          `json:"id"`
	Query      string          `json:"query"`
	QueryHash  string          `json:"query_hash"`
	Report     string          `json:"report"`
	Citations  json.RawMessage `json:"citations"`
	Metadata   json.RawMessage `json:"metadata"`
	IsFavorite bool            `json:"is_favorite"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Message struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	Citations json.RawMessage `json:"citations"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

type NewSession struct {
	Query     string
	QueryHash string
	Report    string
	Citations json.RawMessage
	Metadata  json.RawMessage
}

type NewMessage struct {
	SessionID string
	Role      Role
	Content   string
	Citations json.RawMessage
	Metadata  json.RawMessage
}

// SessionUpdate holds the mutable fields; nil means unchanged.
type SessionUpdate struct {
	Query      *string
	IsFavorite *bool
}

func (u SessionUpdate) Empty() bool {
	return u.Query == nil && u.IsFavorite == nil
}

func OrEmptyArray(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("[]")
	}
	return raw
}

func OrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("{}")
	}
	return raw
}

// Package audit records security-relevant events. Recording is best effort:
// a failing sink never fails the operation being audited.
package audit

import (
	"context"
	"time"
)

// SystemUser attributes entries that precede authentication.
const SystemUser = "system"

// Action classifies an entry.
type Action string

const (
	ActionLoginSuccess   Action = "LOGIN_SUCCESS"
	ActionLoginFailed    Action = "LOGIN_FAILED"
	ActionTokenRefreshed Action = "TOKEN_REFRESHED"
	ActionLogout         Action = "LOGOUT"
	ActionUserRegistered Action = "USER_REGISTERED"
)

// Failure reasons carried in Metadata.Reason for ActionLoginFailed.
const (
	ReasonUserNotFound    = "USER_NOT_FOUND"
	ReasonInvalidPassword = "INVALID_PASSWORD"
	ReasonAccountDisabled = "ACCOUNT_DISABLED"
	ReasonAccountLocked   = "ACCOUNT_LOCKED"
)

// Entry is write-once.
type Entry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Action      Action    `json:"action"`
	Description string    `json:"description"`
	Changes     *Changes  `json:"changes,omitempty"`
	Metadata    Metadata  `json:"metadata"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Changes is an optional before/after snapshot.
type Changes struct {
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
}

type Metadata struct {
	IP        string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	RiskScore int    `json:"riskScore,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Recorder accepts entries without reporting failure.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Sink persists entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Discard is a Recorder that drops everything.
type Discard struct{}

func (Discard) Record(context.Context, Entry) {}

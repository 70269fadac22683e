// Package audit records the security-relevant facts of the install and
// token lifecycle: who installed, when tokens were minted or refreshed,
// and why a refresh was refused. Events never contain token values; the
// TokenHash field carries a sha256 fingerprint safe for correlation.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Action identifies what happened.
type Action string

const (
	ActionInstallStarted     Action = "install_started"
	ActionInstallCompleted   Action = "install_completed"
	ActionInstallFailed      Action = "install_failed"
	ActionTokenRefreshed     Action = "token_refreshed"
	ActionTokenRefreshFailed Action = "token_refresh_failed"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`

	// State correlates an event with its install session.
	State string `json:"state,omitempty"`
	// PortalID is zero until the identity lookup has run.
	PortalID int64 `json:"portal_id,omitempty"`
	// TokenHash fingerprints the access token involved, when any.
	TokenHash string `json:"token_hash,omitempty"`
	// Reason explains failures in upstream words, with secrets stripped.
	Reason string `json:"reason,omitempty"`
	// RequestID is the HTTP correlation id when the event originated in a
	// request.
	RequestID string `json:"request_id,omitempty"`
}

// TokenFingerprint returns a short sha256 fingerprint of a token value.
// Safe to log and store; it does not reveal the token.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}

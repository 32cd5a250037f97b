package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. The set is exhaustive; new
// failure modes must map onto one of these.
type ErrorKind string

// Error kinds.
const (
	ErrKindRevokedToken      ErrorKind = "REVOKED_TOKEN"
	ErrKindTransientProvider ErrorKind = "TRANSIENT_PROVIDER"
	ErrKindLLMRateLimit      ErrorKind = "LLM_RATE_LIMIT"
	ErrKindLLMParseFailure   ErrorKind = "LLM_PARSE_FAILURE"
	ErrKindNoValidAccounts   ErrorKind = "NO_VALID_ACCOUNTS"
	ErrKindNonMeeting        ErrorKind = "CLASSIFICATION_NON_MEETING"
	ErrKindInvalidMeeting    ErrorKind = "INVALID_MEETING"
	ErrKindCancelled         ErrorKind = "CANCELLED"
)

// Sentinel errors checked with errors.Is across package boundaries.
var (
	// ErrTokenRevoked marks an account whose refresh token the provider
	// rejected with invalid_grant. Terminal; requires user re-consent.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrNoValidAccounts is raised when every account is revoked.
	ErrNoValidAccounts = errors.New("no valid accounts")
)

// AccountFailure carries per-account diagnostics for batch results and
// the 401-equivalent error payload.
type AccountFailure struct {
	Email     string `json:"email"`
	IsRevoked bool   `json:"isRevoked"`
	Message   string `json:"message,omitempty"`
}

// PipelineError is a classified pipeline failure with an HTTP-equivalent
// status for the prep stream's error event.
type PipelineError struct {
	Kind           ErrorKind        `json:"kind"`
	Status         int              `json:"status"`
	Message        string           `json:"message"`
	Revoked        bool             `json:"revoked,omitempty"`
	FailedAccounts []AccountFailure `json:"failed_accounts,omitempty"`
	Err            error            `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewNoValidAccountsError builds the 401-equivalent error raised when
// every connected account failed with a revoked token.
func NewNoValidAccountsError(failures []AccountFailure) *PipelineError {
	return &PipelineError{
		Kind:           ErrKindNoValidAccounts,
		Status:         401,
		Message:        "all connected accounts require re-authentication",
		Revoked:        true,
		FailedAccounts: failures,
		Err:            ErrNoValidAccounts,
	}
}

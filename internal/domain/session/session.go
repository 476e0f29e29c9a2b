package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents verification session status.
type Status string

const (
	StatusNeedsPayment       Status = "NEEDS_PAYMENT"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusIssued             Status = "ISSUED"
	StatusVerificationFailed Status = "VERIFICATION_FAILED"
	StatusRefunded           Status = "REFUNDED"
)

var ErrInvalidTransition = errors.New("invalid session status transition")

// Session is one verification attempt. The route layer creates it in
// NEEDS_PAYMENT; this engine only advances its status and records the payment
// and refund hashes. Sessions are never deleted.
type Session struct {
	ID uuid.UUID `json:"id"`
	// Product scopes the session to one product line so reconciliation for
	// one line never touches another line's sessions.
	Product      string `json:"product"`
	SigDigest    string `json:"sigDigest"`
	IDVProvider  string    `json:"idvProvider"`
	Status       Status    `json:"status"`
	ChainID      uint64    `json:"chainId,omitempty"`
	TxHash       string    `json:"txHash,omitempty"`
	RefundTxHash string    `json:"refundTxHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CanTransitionTo validates a session status transition.
func (s *Session) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusNeedsPayment:       {StatusInProgress},
		StatusInProgress:         {StatusIssued, StatusVerificationFailed, StatusRefunded},
		StatusVerificationFailed: {StatusRefunded},
		StatusIssued:             {},
		StatusRefunded:           {},
	}
	allowed := transitions[s.Status]
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}

// MarkInProgress binds the payment and advances to IN_PROGRESS.
func (s *Session) MarkInProgress(chainID uint64, txHash string) error {
	if !s.CanTransitionTo(StatusInProgress) {
		return ErrInvalidTransition
	}
	s.ChainID = chainID
	s.TxHash = txHash
	s.Status = StatusInProgress
	return nil
}

// MarkRefunded records the refund and moves to the terminal REFUNDED state.
func (s *Session) MarkRefunded(refundTxHash string) error {
	if !s.CanTransitionTo(StatusRefunded) {
		return ErrInvalidTransition
	}
	s.RefundTxHash = refundTxHash
	s.Status = StatusRefunded
	return nil
}

// IsTerminal reports whether no further transitions are possible.
func (s *Session) IsTerminal() bool {
	return s.Status == StatusIssued || s.Status == StatusRefunded
}

package domain

import (
	"fmt"
	"strings"
)

// TransferStatus is the state of a Transfer.
type TransferStatus string

const (
	StatusDraft      TransferStatus = "DRAFT"
	StatusReady      TransferStatus = "READY"
	StatusProcessing TransferStatus = "PROCESSING"
	StatusCompleted  TransferStatus = "COMPLETED"
	StatusFailed     TransferStatus = "FAILED"
	StatusCanceled   TransferStatus = "CANCELED"
	StatusExpired    TransferStatus = "EXPIRED"
)

var transferTransitions = map[TransferStatus][]TransferStatus{
	StatusDraft:      {StatusReady, StatusCanceled, StatusExpired},
	StatusReady:      {StatusProcessing, StatusCanceled, StatusExpired},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCanceled:   {},
	StatusExpired:    {},
}

// ParseTransferStatus returns the status named by s, case-insensitively.
func ParseTransferStatus(s string) (TransferStatus, error) {
	st := TransferStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := transferTransitions[st]; !ok {
		return "", fmt.Errorf("unknown transfer status %q", s)
	}
	return st, nil
}

// CanTransitionTo reports whether next is an allowed successor of s.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	for _, allowed := range transferTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s TransferStatus) Terminal() bool {
	next, ok := transferTransitions[s]
	return ok && len(next) == 0
}

// PayoutStatus is the state of a CryptoPayout.
type PayoutStatus string

const (
	PayoutCreated   PayoutStatus = "CREATED"
	PayoutRequested PayoutStatus = "REQUESTED"
	PayoutPaid      PayoutStatus = "PAID"
	PayoutExpired   PayoutStatus = "EXPIRED"
	PayoutFailed    PayoutStatus = "FAILED"
)

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutCreated:   {PayoutRequested, PayoutExpired, PayoutFailed},
	PayoutRequested: {PayoutPaid, PayoutExpired, PayoutFailed},
	PayoutPaid:      {},
	PayoutExpired:   {},
	PayoutFailed:    {},
}

func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	for _, allowed := range payoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PayoutStatus) Terminal() bool {
	next, ok := payoutTransitions[s]
	return ok && len(next) == 0
}

// EventFor maps a transfer status to the timeline event recorded on entry.
func EventFor(status TransferStatus) EventType {
	switch status {
	case StatusReady:
		return EventQuoteLocked
	case StatusProcessing:
		return EventProcessing
	case StatusCompleted:
		return EventCompleted
	case StatusFailed:
		return EventFailed
	case StatusCanceled:
		return EventCanceled
	case StatusExpired:
		return EventExpired
	}
	return EventType(status)
}

// Package listing holds the persisted submission record and the store contract
// shared by the submission workflow and the moderation coordinator.
package listing

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("listing: not found")
	ErrStorageUnavailable = errors.New("listing: storage unavailable")
	ErrIllegalTransition  = errors.New("listing: illegal status transition")
)

type Status string

const (
	// StatusAny is accepted as the expected status of SetStatus and matches
	// whatever the listing currently holds.
	StatusAny      Status = ""
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CanTransition reports whether a listing may move from one status to another.
// Only pending listings move, and only to a terminal status.
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.Terminal()
}

type Listing struct {
	ID              int64
	SubmitterID     int64
	SubmitterHandle string
	Title           string
	Description     string
	Status          Status
	CreatedAt       time.Time
	DecidedBy       int64
	DecidedAt       time.Time
}

// New is the data needed to create a pending listing.
type New struct {
	SubmitterID     int64
	SubmitterHandle string
	Title           string
	Description     string
}

// Store is the durable listing collaborator. Insert and SetStatus must be
// atomic with respect to concurrent callers.
type Store interface {
	Insert(ctx context.Context, n New) (int64, error)
	Get(ctx context.Context, id int64) (*Listing, error)
	// SetStatus moves the listing to next if its current status equals
	// expected (or expected is StatusAny) and the move is legal. It returns
	// true only for the caller whose update caused the transition.
	SetStatus(ctx context.Context, id int64, expected, next Status, actorID int64) (bool, error)
	ListPending(ctx context.Context, limit int) ([]Listing, error)
}

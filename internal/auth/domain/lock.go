package domain

import "time"

// LockState is the platform-wide authority lock.
type LockState struct {
	Locked bool       `json:"locked"`
	Reason string     `json:"reason,omitempty"`
	SetBy  string     `json:"set_by,omitempty"`
	SetAt  *time.Time `json:"set_at,omitempty"`
}

type LockAction string

const (
	LockActionSet   LockAction = "set"
	LockActionClear LockAction = "clear"
)

// LockEvent is one audit entry for a lock change.
type LockEvent struct {
	ID     string
	Action LockAction
	By     string
	Reason string
	At     time.Time
}

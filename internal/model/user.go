package model

import (
	"strings"
	"time"
)

// DefaultCredits is the balance given to newly registered users
const DefaultCredits int64 = 5000

// UserID uniquely identifies a user across the system
type UserID string

// User is a registered participant
type User struct {
	ID           UserID
	Email        string // always lowercase
	Name         string
	PasswordHash string
	Credits      int64
	// Ledger holds the credit change applied for each settled round, keyed
	// by Room.SettlementKey
	Ledger    map[string]int64 `json:",omitempty"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Participant returns the public identity of the user
func (u *User) Participant() Participant {
	return Participant{
		UserID: u.ID,
		Name:   u.Name,
		Email:  u.Email,
	}
}

// Clone returns a deep copy of the user
func (u *User) Clone() *User {
	c := *u
	if u.Ledger != nil {
		c.Ledger = make(map[string]int64, len(u.Ledger))
		for k, v := range u.Ledger {
			c.Ledger[k] = v
		}
	}
	return &c
}

// Applied returns the credit change already recorded under key
func (u *User) Applied(key string) (int64, bool) {
	delta, ok := u.Ledger[key]
	return delta, ok
}

// Apply changes the balance by delta and records it under key. A key that
// is already recorded leaves the user untouched and reports false.
func (u *User) Apply(key string, delta int64) bool {
	if _, ok := u.Ledger[key]; ok {
		return false
	}
	if u.Ledger == nil {
		u.Ledger = make(map[string]int64)
	}
	u.Credits += delta
	u.Ledger[key] = delta
	return true
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

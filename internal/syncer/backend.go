// Package syncer binds local and remote copies of the record set:
// encrypt before send, decrypt after fetch, merge under clear metadata,
// queue when the key or the network is unavailable.
package syncer

import (
	"context"
	"time"

	"github.com/syntrise/dropcore/internal/dropcore"
	"github.com/syntrise/dropcore/internal/record"
)

// Payload is the backend's view of a record: visible fields, the
// envelope, and the token set. Never plaintext, never words.
type Payload struct {
	ID        string                `json:"id" bson:"_id"`
	UserID    string                `json:"user_id" bson:"user_id"`
	Category  string                `json:"category" bson:"category"`
	CreatedAt time.Time             `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time             `json:"updated_at" bson:"updated_at"`
	Favorite  bool                  `json:"favorite,omitempty" bson:"favorite"`
	Archived  bool                  `json:"archived,omitempty" bson:"archived"`
	Deleted   bool                  `json:"deleted,omitempty" bson:"deleted"`
	Privacy   dropcore.PrivacyLevel `json:"privacy,omitempty" bson:"privacy"`
	Media     *record.MediaMeta     `json:"media,omitempty" bson:"media,omitempty"`

	EncryptionVersion int      `json:"encryption_version" bson:"encryption_version"`
	Ciphertext        []byte   `json:"ciphertext,omitempty" bson:"ciphertext,omitempty"`
	Nonce             []byte   `json:"nonce,omitempty" bson:"nonce,omitempty"`
	Tokens            []string `json:"tokens,omitempty" bson:"tokens,omitempty"`
}

// Candidate is a backend search hit: an id and how many query tokens
// its token set intersected.
type Candidate struct {
	ID      string `json:"id" bson:"_id"`
	Matches int    `json:"matches" bson:"matches"`
}

// Backend is the remote record store plus token index. Token equality,
// not text equality, drives server-side recall.
type Backend interface {
	UpsertRecord(ctx context.Context, p Payload) error
	SoftDelete(ctx context.Context, userID, id string) error
	FetchSince(ctx context.Context, userID string, since time.Time) ([]Payload, error)
	// SearchTokens returns candidate ids ranked by intersection count
	// with the given token list, scoped to one user.
	SearchTokens(ctx context.Context, userID string, tokens []string, limit int) ([]Candidate, error)
}

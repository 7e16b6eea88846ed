// Package record defines the Drop, the unit of captured data. Fields are
// partitioned: visible fields stay clear so the backend can filter and
// sort without decrypting; sensitive fields only ever leave the device
// inside ciphertext.
package record

import (
	"time"

	"github.com/google/uuid"

	"github.com/syntrise/dropcore/internal/dropcore"
)

// MediaMeta is non-sensitive media metadata (visible). The media bytes
// themselves are sensitive.
type MediaMeta struct {
	Mime       string  `json:"mime,omitempty"`
	SizeBytes  int64   `json:"size_bytes,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
}

// Drop is a single captured record.
type Drop struct {
	// Visible fields: always clear.
	ID        string                `json:"id"`
	UserID    string                `json:"user_id"`
	Category  string                `json:"category"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	Favorite  bool                  `json:"favorite,omitempty"`
	Archived  bool                  `json:"archived,omitempty"`
	Deleted   bool                  `json:"deleted,omitempty"`
	Privacy   dropcore.PrivacyLevel `json:"privacy,omitempty"`
	Media     *MediaMeta            `json:"media,omitempty"`

	// Sensitive fields: cleared on encrypt, restored on decrypt.
	Text      string   `json:"text,omitempty"`
	Note      string   `json:"note,omitempty"`
	MediaData []byte   `json:"media_data,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Tags      []string `json:"tags,omitempty"`

	// Envelope state. Version 0 means cleartext.
	EncryptionVersion int    `json:"encryption_version"`
	Ciphertext        []byte `json:"ciphertext,omitempty"`
	Nonce             []byte `json:"nonce,omitempty"`

	// DecryptFailed marks a record whose ciphertext could not be
	// authenticated; visible fields remain usable.
	DecryptFailed bool `json:"decrypt_failed,omitempty"`
}

// New returns a Drop with a fresh id and timestamps.
func New(userID, category string) Drop {
	now := time.Now().UTC()
	return Drop{
		ID:        uuid.NewString(),
		UserID:    userID,
		Category:  category,
		CreatedAt: now,
		UpdatedAt: now,
		Privacy:   dropcore.PrivacyStandard,
	}
}

// HasSensitive reports whether any sensitive field is present.
func (d Drop) HasSensitive() bool {
	return d.Text != "" || d.Note != "" || len(d.MediaData) > 0 ||
		d.Latitude != nil || d.Longitude != nil || len(d.Tags) > 0
}

// ClearSensitive returns a copy with every sensitive field removed.
func (d Drop) ClearSensitive() Drop {
	d.Text = ""
	d.Note = ""
	d.MediaData = nil
	d.Latitude = nil
	d.Longitude = nil
	d.Tags = nil
	return d
}

// SearchableText is the concatenation fed to the tokenizer: sensitive
// text plus category and tags, so category and tag words are findable.
func (d Drop) SearchableText() string {
	out := d.Text
	if d.Note != "" {
		out += " " + d.Note
	}
	if d.Category != "" {
		out += " " + d.Category
	}
	for _, tag := range d.Tags {
		out += " " + tag
	}
	return out
}

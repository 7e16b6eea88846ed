// Package envelope encrypts a Drop's sensitive fields while leaving
// visible fields clear, so the backend can filter and sort by category,
// time, and flags without ever decrypting.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/syntrise/dropcore/internal/crypto"
	"github.com/syntrise/dropcore/internal/dropcore"
	"github.com/syntrise/dropcore/internal/record"
)

// CurrentVersion is stamped on newly encrypted records. Version 0 means
// cleartext and passes through both directions untouched.
const CurrentVersion = 1

// sensitivePayload is the serialized form of the sensitive partition.
type sensitivePayload struct {
	Text      string   `json:"text,omitempty"`
	Note      string   `json:"note,omitempty"`
	MediaData []byte   `json:"media_data,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// EncryptRecord seals the sensitive fields under key. A record with no
// sensitive content comes back unchanged with version 0. The record id
// binds the ciphertext as AAD, so a blob moved between records fails
// authentication.
//
// A record still carrying an envelope (already encrypted, or one whose
// decryption failed) passes through unchanged: its ciphertext may be
// the only remaining copy of the sensitive fields, and rewriting it as
// an empty version-0 record would destroy them.
func EncryptRecord(d record.Drop, key []byte) (record.Drop, error) {
	if d.EncryptionVersion >= CurrentVersion || d.DecryptFailed {
		return d, nil
	}
	if !d.HasSensitive() {
		d.EncryptionVersion = 0
		d.Ciphertext = nil
		d.Nonce = nil
		return d, nil
	}
	payload := sensitivePayload{
		Text:      d.Text,
		Note:      d.Note,
		MediaData: d.MediaData,
		Latitude:  d.Latitude,
		Longitude: d.Longitude,
		Tags:      d.Tags,
	}
	pt, err := json.Marshal(payload)
	if err != nil {
		return record.Drop{}, err
	}
	ct, nonce, err := crypto.SealGCM(key, pt, []byte(d.ID))
	if err != nil {
		return record.Drop{}, err
	}
	out := d.ClearSensitive()
	out.Ciphertext = ct
	out.Nonce = nonce
	out.EncryptionVersion = CurrentVersion
	return out, nil
}

// DecryptRecord opens the ciphertext and merges sensitive fields back
// over the visible ones. Authentication failure yields the record with
// DecryptFailed set and visible fields intact, plus a wrapped
// ErrAuthentication; it never throws away the rest of a batch.
func DecryptRecord(d record.Drop, key []byte) (record.Drop, error) {
	if d.EncryptionVersion == 0 {
		return d, nil
	}
	pt, err := crypto.OpenGCM(key, d.Ciphertext, d.Nonce, []byte(d.ID))
	if err != nil {
		d.DecryptFailed = true
		return d, fmt.Errorf("%w: record %s", dropcore.ErrAuthentication, d.ID)
	}
	var payload sensitivePayload
	if err := json.Unmarshal(pt, &payload); err != nil {
		d.DecryptFailed = true
		return d, fmt.Errorf("%w: record %s: bad payload", dropcore.ErrAuthentication, d.ID)
	}
	d.Text = payload.Text
	d.Note = payload.Note
	d.MediaData = payload.MediaData
	d.Latitude = payload.Latitude
	d.Longitude = payload.Longitude
	d.Tags = payload.Tags
	d.Ciphertext = nil
	d.Nonce = nil
	d.EncryptionVersion = 0
	d.DecryptFailed = false
	return d, nil
}

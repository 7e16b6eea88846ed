package dropcore

// PrivacyLevel is a per-record policy flag. It gates two independent
// booleans: whether the record may be synced to the backend at all, and
// whether its decrypted text may feed a local embedding index. The codec
// only reads these; enforcement belongs to the reconciler.
type PrivacyLevel string

const (
	PrivacyStandard PrivacyLevel = "standard"
	PrivacyHigh     PrivacyLevel = "high"
	PrivacyMaximum  PrivacyLevel = "maximum"
)

func (p PrivacyLevel) Valid() bool {
	switch p {
	case PrivacyStandard, PrivacyHigh, PrivacyMaximum:
		return true
	}
	return false
}

// SyncAllowed reports whether records at this level may leave the device
// (as ciphertext). Maximum-privacy records never sync.
func (p PrivacyLevel) SyncAllowed() bool {
	return p != PrivacyMaximum
}

// EmbeddingAllowed reports whether decrypted text may be handed to the
// local semantic index. High and maximum levels opt out.
func (p PrivacyLevel) EmbeddingAllowed() bool {
	return p == PrivacyStandard || p == ""
}

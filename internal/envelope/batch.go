package envelope

import (
	"context"

	"github.com/syntrise/dropcore/internal/record"
)

// RecordError ties a per-record failure to its id without aborting the
// batch.
type RecordError struct {
	ID  string
	Err error
}

func (e RecordError) Error() string { return "record " + e.ID + ": " + e.Err.Error() }
func (e RecordError) Unwrap() error { return e.Err }

// EncryptAll encrypts independent records, isolating failures per
// record. Cancellation is checked between records; already-processed
// output is returned with the context error.
func EncryptAll(ctx context.Context, drops []record.Drop, key []byte) ([]record.Drop, []RecordError, error) {
	out := make([]record.Drop, 0, len(drops))
	var failed []RecordError
	for _, d := range drops {
		if err := ctx.Err(); err != nil {
			return out, failed, err
		}
		enc, err := EncryptRecord(d, key)
		if err != nil {
			failed = append(failed, RecordError{ID: d.ID, Err: err})
			continue
		}
		out = append(out, enc)
	}
	return out, failed, nil
}

// DecryptAll decrypts a batch. Records that fail authentication are
// still returned (flagged, visible fields intact) alongside their
// errors.
func DecryptAll(ctx context.Context, drops []record.Drop, key []byte) ([]record.Drop, []RecordError, error) {
	out := make([]record.Drop, 0, len(drops))
	var failed []RecordError
	for _, d := range drops {
		if err := ctx.Err(); err != nil {
			return out, failed, err
		}
		dec, err := DecryptRecord(d, key)
		if err != nil {
			failed = append(failed, RecordError{ID: d.ID, Err: err})
		}
		out = append(out, dec)
	}
	return out, failed, nil
}

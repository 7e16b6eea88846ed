package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syntrise/dropcore/internal/dropcore"
	"github.com/syntrise/dropcore/internal/record"
	"github.com/syntrise/dropcore/internal/storage"
)

func (r *Reconciler) enqueue(ctx context.Context, recordID, action string) error {
	return r.queue.UpsertTask(ctx, storage.QueueRow{
		RecordID:   recordID,
		Action:     action,
		EnqueuedAt: time.Now().Unix(),
	})
}

// QueueDelete records a deletion that could not reach the backend.
func (r *Reconciler) QueueDelete(ctx context.Context, recordID string) error {
	return r.enqueue(ctx, recordID, ActionDelete)
}

// Pending returns the queued retry tasks.
func (r *Reconciler) Pending(ctx context.Context) ([]storage.QueueRow, error) {
	return r.queue.ListTasks(ctx)
}

// RecordSource resolves queued record ids to their current local state.
// Returning ok=false means the record no longer exists locally and the
// task is dropped.
type RecordSource func(ctx context.Context, id string) (record.Drop, bool, error)

// Drain attempts each queued task once per pass: success removes it, a
// transient failure leaves it queued (never duplicated). A systemic
// no-key condition short-circuits with ErrNotReady before touching
// anything.
func (r *Reconciler) Drain(ctx context.Context, src RecordSource, key []byte) (Result, error) {
	if len(key) == 0 {
		return Result{}, fmt.Errorf("%w: no master key for drain", dropcore.ErrNotReady)
	}
	tasks, err := r.queue.ListTasks(ctx)
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.drainOne(ctx, task, src, key); err != nil {
			if errors.Is(err, dropcore.ErrNetwork) {
				res.Queued++ // stays queued for the next pass
				continue
			}
			res.Failed = append(res.Failed, RecordFailure{ID: task.RecordID, Err: err})
			continue
		}
		if err := r.queue.RemoveTask(ctx, task.RecordID); err != nil {
			return res, err
		}
		res.Uploaded++
	}
	return res, nil
}

func (r *Reconciler) drainOne(ctx context.Context, task storage.QueueRow, src RecordSource, key []byte) error {
	switch task.Action {
	case ActionDelete:
		nctx, cancel := context.WithTimeout(ctx, r.netTimeout)
		defer cancel()
		d, ok, err := src(ctx, task.RecordID)
		userID := ""
		if err == nil && ok {
			userID = d.UserID
		}
		if err := r.backend.SoftDelete(nctx, userID, task.RecordID); err != nil {
			return fmt.Errorf("%w: %v", dropcore.ErrNetwork, err)
		}
		return nil
	case ActionUpsert:
		d, ok, err := src(ctx, task.RecordID)
		if err != nil {
			return err
		}
		if !ok {
			return nil // record gone; nothing to retry
		}
		p, err := r.PrepareForUpload(d, key)
		if err != nil {
			return err
		}
		if p == nil {
			return nil // privacy tightened since enqueue
		}
		nctx, cancel := context.WithTimeout(ctx, r.netTimeout)
		defer cancel()
		if err := r.backend.UpsertRecord(nctx, *p); err != nil {
			return fmt.Errorf("%w: %v", dropcore.ErrNetwork, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown queue action %q", task.Action)
	}
}

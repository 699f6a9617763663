package triggers

import (
	"context"

	"github.com/sirupsen/logrus"
)

// TaskSyncTag is the background-sync tag the Tasky app fires after queueing
// offline mutations.
const TaskSyncTag = "task-sync"

// PushTag keys the single pass-through push handler.
const PushTag = "push"

// PendingItem identifies a queued offline mutation awaiting sync.
type PendingItem struct {
	ID string
}

// PendingSource supplies and reconciles the queue of offline mutations.
// The core ships only the hook contract; the default source reports an empty
// queue and the reconciliation backend lives outside this layer.
type PendingSource interface {
	Pending(ctx context.Context) ([]PendingItem, error)
	Sync(ctx context.Context, item PendingItem) error
	Remove(ctx context.Context, id string) error
}

// EmptySource is the default PendingSource: nothing pending, nothing to do.
type EmptySource struct{}

func (EmptySource) Pending(context.Context) ([]PendingItem, error) { return nil, nil }
func (EmptySource) Sync(context.Context, PendingItem) error        { return nil }
func (EmptySource) Remove(context.Context, string) error           { return nil }

// NewTaskSync builds the task-sync handler: iterate pending items, attempt
// each sync, remove on success, continue past individual failures. No
// backoff; the host re-fires the trigger on its own schedule.
func NewTaskSync(source PendingSource, logger *logrus.Logger) SyncHandler {
	if source == nil {
		source = EmptySource{}
	}
	return func(ctx context.Context) error {
		items, err := source.Pending(ctx)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := source.Sync(ctx, item); err != nil {
				if logger != nil {
					logger.WithError(err).WithFields(logrus.Fields{
						"action": "task_sync",
						"item":   item.ID,
					}).Warn("sync_item_failed")
				}
				continue
			}
			if err := source.Remove(ctx, item.ID); err != nil && logger != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"action": "task_sync",
					"item":   item.ID,
				}).Warn("sync_item_remove_failed")
			}
		}
		return nil
	}
}

// NewPushPassthrough logs the payload and defers display to the host
// notification layer.
func NewPushPassthrough(logger *logrus.Logger) PushHandler {
	return func(_ context.Context, payload string) error {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"action":  "push",
				"payload": payload,
			}).Info("push_forwarded")
		}
		return nil
	}
}

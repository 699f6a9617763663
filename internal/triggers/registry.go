package triggers

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// SyncHandler runs when the host fires a background-sync trigger for a tag.
type SyncHandler func(ctx context.Context) error

// PushHandler runs when the host forwards a push payload.
type PushHandler func(ctx context.Context, payload string) error

var (
	syncRegistry sync.Map
	pushRegistry sync.Map
)

// ErrDuplicateTrigger indicates a tag already has a handler registered.
var ErrDuplicateTrigger = errors.New("trigger already registered")

// RegisterSync stores a sync handler for the given tag.
func RegisterSync(tag string, handler SyncHandler) error {
	key := normalizeTag(tag)
	if key == "" {
		return errors.New("trigger tag required")
	}
	if handler == nil {
		return errors.New("handler required")
	}
	if _, loaded := syncRegistry.LoadOrStore(key, handler); loaded {
		return ErrDuplicateTrigger
	}
	return nil
}

// MustRegisterSync panics on registration failure.
func MustRegisterSync(tag string, handler SyncHandler) {
	if err := RegisterSync(tag, handler); err != nil {
		panic(err)
	}
}

// FireSync invokes the handler for a tag. The boolean reports whether a
// handler was registered; unknown tags are ignored by design.
func FireSync(ctx context.Context, tag string) (bool, error) {
	key := normalizeTag(tag)
	if key == "" {
		return false, nil
	}
	value, ok := syncRegistry.Load(key)
	if !ok {
		return false, nil
	}
	handler, ok := value.(SyncHandler)
	if !ok {
		return false, nil
	}
	return true, handler(ctx)
}

// RegisterPush stores a push handler for the given tag.
func RegisterPush(tag string, handler PushHandler) error {
	key := normalizeTag(tag)
	if key == "" {
		return errors.New("trigger tag required")
	}
	if handler == nil {
		return errors.New("handler required")
	}
	if _, loaded := pushRegistry.LoadOrStore(key, handler); loaded {
		return ErrDuplicateTrigger
	}
	return nil
}

// MustRegisterPush panics on registration failure.
func MustRegisterPush(tag string, handler PushHandler) {
	if err := RegisterPush(tag, handler); err != nil {
		panic(err)
	}
}

// FirePush invokes the push handler for a tag with the raw payload.
func FirePush(ctx context.Context, tag, payload string) (bool, error) {
	key := normalizeTag(tag)
	if key == "" {
		return false, nil
	}
	value, ok := pushRegistry.Load(key)
	if !ok {
		return false, nil
	}
	handler, ok := value.(PushHandler)
	if !ok {
		return false, nil
	}
	return true, handler(ctx, payload)
}

// Status returns registration status for a sync tag.
func Status(tag string) string {
	if _, ok := syncRegistry.Load(normalizeTag(tag)); ok {
		return "registered"
	}
	return "missing"
}

// Snapshot returns status for a list of sync tags.
func Snapshot(tags []string) map[string]string {
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		if normalized := normalizeTag(tag); normalized != "" {
			out[normalized] = Status(normalized)
		}
	}
	return out
}

// Reset clears both registries. Test helper.
func Reset() {
	syncRegistry.Range(func(key, _ any) bool {
		syncRegistry.Delete(key)
		return true
	})
	pushRegistry.Range(func(key, _ any) bool {
		pushRegistry.Delete(key)
		return true
	})
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

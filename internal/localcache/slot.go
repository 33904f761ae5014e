package localcache

import "context"

// Slot is typed access to one key of a Local.
type Slot[T any] struct {
	local *Local
	key   string
}

// NewSlot binds key of l to type T.
func NewSlot[T any](l *Local, key string) Slot[T] {
	return Slot[T]{local: l, key: key}
}

func (s Slot[T]) Key() string { return s.key }

func (s Slot[T]) Save(ctx context.Context, v T) error {
	return s.local.Save(ctx, s.key, v)
}

func (s Slot[T]) Load(ctx context.Context, def T) T {
	return Load(ctx, s.local, s.key, def)
}

func (s Slot[T]) Clear(ctx context.Context) error {
	return s.local.Clear(ctx, s.key)
}

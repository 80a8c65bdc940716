package core

import "context"

// PropertyStore keeps small json values across restarts, such as worker
// checkpoints. Get leaves value untouched when the key is missing.
type PropertyStore interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any) error
}

package ctxutil

import "context"

// Default guards against nil contexts at I/O boundaries, substituting
// context.Background().
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

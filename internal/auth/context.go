// ABOUTME: Authentication context for tracking staff identity through handlers
// ABOUTME: Provides WithStaff/FromContext for propagating the caller via context

package auth

import (
	"context"
)

// StaffContext holds the authenticated staff identity extracted from a
// request. It is populated by the middleware and retrieved in handlers.
type StaffContext struct {
	UserID string
}

// staffContextKey is the key type for storing StaffContext in context.Context.
type staffContextKey struct{}

// WithStaff returns a new context with the StaffContext attached.
func WithStaff(ctx context.Context, staff *StaffContext) context.Context {
	return context.WithValue(ctx, staffContextKey{}, staff)
}

// FromContext retrieves the StaffContext from the context, returning nil
// if not present.
func FromContext(ctx context.Context) *StaffContext {
	val := ctx.Value(staffContextKey{})
	if val == nil {
		return nil
	}
	staff, ok := val.(*StaffContext)
	if !ok {
		return nil
	}
	return staff
}

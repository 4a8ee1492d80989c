package usecase

import (
	"context"

	"swapmarket/internal/domain/entity"
)

// IdentityProvider resolves the authenticated user of the current call.
type IdentityProvider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// TokenVerifier turns a bearer token into a user id.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// EventPublisher fans committed messaging mutations out to other processes.
type EventPublisher interface {
	Publish(ctx context.Context, event entity.MessagingEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, entity.MessagingEvent) error { return nil }

// NopPublisher discards every event.
func NopPublisher() EventPublisher {
	return nopPublisher{}
}

type userIDKey struct{}

// WithUserID returns a copy of ctx carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

type contextIdentity struct{}

func (contextIdentity) CurrentUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey{}).(string)
	return userID, ok && userID != ""
}

// ContextIdentity reads the user id stored by WithUserID.
func ContextIdentity() IdentityProvider {
	return contextIdentity{}
}

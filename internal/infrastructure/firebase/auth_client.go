package firebase

import (
	"context"
	"time"

	"firebase.google.com/go/v4/auth"

	"swapmarket/internal/domain/entity"
	"swapmarket/pkg/errors"
)

type FirebaseAuthClient struct {
	client *auth.Client
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

// VerifyToken checks a Firebase ID token and returns its uid.
func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", errors.Unauthenticated("Invalid or expired token")
	}

	return result.UID, nil
}

// GetByID reads the auth user record, so profiles missing from the users
// collection can still be snapshotted into conversations.
func (f *FirebaseAuthClient) GetByID(ctx context.Context, uid string) (*entity.User, error) {
	record, err := f.client.GetUser(ctx, uid)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return nil, errors.NotFound("User", err)
		}
		return nil, errors.StoreError("Failed to get auth user", err)
	}

	user := &entity.User{
		ID:          record.UID,
		Email:       record.Email,
		DisplayName: record.DisplayName,
		PhotoURL:    record.PhotoURL,
	}
	if record.UserMetadata != nil {
		user.CreatedAt = time.UnixMilli(record.UserMetadata.CreationTimestamp).UTC()
	}
	return user, nil
}

// TestConnection performs a cheap authenticated call against Firebase Auth.
func (f *FirebaseAuthClient) TestConnection(ctx context.Context) error {
	_, err := f.client.GetUser(ctx, "health-check-probe")
	if err != nil && !auth.IsUserNotFound(err) {
		return errors.StoreError("Firebase Auth unreachable", err)
	}
	return nil
}

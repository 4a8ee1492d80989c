package entity

import (
	"time"
)

// User is the directory record messaging reads its participant snapshots from.
type User struct {
	ID          string    `json:"id" firestore:"id"`
	Email       string    `json:"email" firestore:"email"`
	DisplayName string    `json:"display_name" firestore:"displayName"`
	PhotoURL    string    `json:"photo_url,omitempty" firestore:"photoURL,omitempty"`
	CreatedAt   time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt   time.Time `json:"updated_at" firestore:"updatedAt"`
}

const PlaceholderUserName = "User"

// Snapshot returns the denormalized participant info for u. The display name
// falls back to the email and then to a generic placeholder.
func (u *User) Snapshot() ParticipantInfo {
	name := u.DisplayName
	if name == "" {
		name = u.Email
	}
	if name == "" {
		name = PlaceholderUserName
	}
	return ParticipantInfo{
		Name:   name,
		Email:  u.Email,
		Avatar: u.PhotoURL,
	}
}

// PlaceholderParticipant is used when a participant's profile cannot be resolved.
func PlaceholderParticipant() ParticipantInfo {
	return ParticipantInfo{Name: PlaceholderUserName}
}

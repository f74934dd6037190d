package store

import (
	"context"
	"errors"
)

// AvatarRecords is implemented by user stores that keep the avatar on the
// user record itself.
type AvatarRecords interface {
	SetAvatar(ctx context.Context, id string, data []byte, contentType string) error
	GetAvatar(ctx context.Context, id string) ([]byte, string, error)
}

// RecordAvatarStore stores avatars inside the user record.
type RecordAvatarStore struct {
	users AvatarRecords
}

func NewRecordAvatarStore(users AvatarRecords) *RecordAvatarStore {
	return &RecordAvatarStore{users: users}
}

func (s *RecordAvatarStore) Put(ctx context.Context, userID string, data []byte, contentType string) error {
	return s.users.SetAvatar(ctx, userID, data, contentType)
}

func (s *RecordAvatarStore) Get(ctx context.Context, userID string) ([]byte, string, error) {
	return s.users.GetAvatar(ctx, userID)
}

// Remove clears the avatar. A user that no longer exists has nothing left to
// clear.
func (s *RecordAvatarStore) Remove(ctx context.Context, userID string) error {
	err := s.users.SetAvatar(ctx, userID, nil, "")
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

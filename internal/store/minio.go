package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioAvatarStore keeps avatars as objects named after the user id.
type MinioAvatarStore struct {
	client *minio.Client
	bucket string
}

func NewMinioAvatarStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioAvatarStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	// Ensure bucket exists
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
	}

	return &MinioAvatarStore{client: client, bucket: bucket}, nil
}

func avatarKey(userID string) string {
	return "avatars/" + userID
}

// Put stores the avatar, replacing any previous one.
func (s *MinioAvatarStore) Put(ctx context.Context, userID string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, avatarKey(userID), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("minio put avatar: %w", err)
	}
	return nil
}

// Get returns the avatar bytes and content type.
func (s *MinioAvatarStore) Get(ctx context.Context, userID string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, avatarKey(userID), minio.GetObjectOptions{})
	if err != nil {
		return nil, "", minioNotFound(err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, "", minioNotFound(err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("minio read avatar: %w", err)
	}
	return data, info.ContentType, nil
}

// Remove deletes the avatar. Removing a missing avatar is not an error.
func (s *MinioAvatarStore) Remove(ctx context.Context, userID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, avatarKey(userID), minio.RemoveObjectOptions{})
	if err != nil && !errors.Is(minioNotFound(err), ErrNotFound) {
		return fmt.Errorf("minio remove avatar: %w", err)
	}
	return nil
}

func minioNotFound(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}

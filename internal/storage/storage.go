// Package storage stores user-uploaded blobs (profile pictures).
//
// Implementations:
//   - LocalStorage: filesystem, served by the app under LOCAL_STORAGE_URL
//   - R2Storage: Cloudflare R2 through the S3 API
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Storage defines blob operations used by the account features.
type Storage interface {
	// Put stores data at key, replacing any existing object.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object whose key starts with prefix and
	// returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// PublicURL returns the permanent URL of a public object.
	PublicURL(key string) (string, error)
}

// PutOptions configures how an object is stored. Objects are public through
// the configured public URL; R2 has no per-object ACLs.
type PutOptions struct {
	ContentType  string
	CacheControl string
}

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	BasePath string // e.g. "./storage"
	BaseURL  string // e.g. "http://localhost:8080/files"
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string // bucket's public domain, required for avatars
	Region          string // default "auto"
	Endpoint        string // overrides the account endpoint, for tests
}

const (
	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

// New builds the configured provider.
func New(provider string, local LocalConfig, r2 R2Config, logger *slog.Logger) (Storage, error) {
	switch provider {
	case ProviderLocal, "":
		return NewLocalStorage(local, logger)
	case ProviderR2:
		return NewR2Storage(r2, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", provider)
	}
}

// avatarRoot is the top-level folder for profile pictures.
const avatarRoot = "profile-pictures"

// AvatarPrefix is the folder holding every profile picture of a user.
func AvatarPrefix(userID string) string {
	return avatarRoot + "/" + userID + "/"
}

// AvatarKey generates a fresh key for a user's profile picture.
// Format: profile-pictures/{userID}/{uuid}.jpg
func AvatarKey(userID string) string {
	return AvatarPrefix(userID) + uuid.NewString() + ".jpg"
}

// validateKey rejects empty keys, absolute keys and path traversal.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	return nil
}

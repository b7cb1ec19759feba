// This file implements profile picture uploads.
package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/DukeRupert/dentaistudy/internal/identity"
	"github.com/DukeRupert/dentaistudy/internal/storage"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Avatar constraints.
const (
	MaxAvatarBytes    = 5 << 20
	AvatarMaxEdge     = 512
	AvatarJPEGQuality = 85
)

// User metadata keys owned by the avatar feature.
const (
	MetaAvatarURL = "avatar_url"
	MetaAvatarKey = "avatar_key"
)

// =============================================================================
// Image Processing
// =============================================================================

// ImageProcessor normalizes uploaded pictures.
type ImageProcessor interface {
	// FitJPEG decodes data, applies EXIF orientation and resizes it to fit
	// within maxEdge x maxEdge. The result is always JPEG.
	FitJPEG(data []byte, maxEdge int) ([]byte, error)
}

// imagingProcessor implements ImageProcessor using the imaging library.
type imagingProcessor struct{}

// NewImagingProcessor creates a new ImageProcessor using the imaging library.
func NewImagingProcessor() ImageProcessor {
	return &imagingProcessor{}
}

// FitJPEG implements ImageProcessor.
func (p *imagingProcessor) FitJPEG(data []byte, maxEdge int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > maxEdge || b.Dy() > maxEdge {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(AvatarJPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// =============================================================================
// Avatar Service
// =============================================================================

// AvatarService defines profile picture operations.
type AvatarService interface {
	// Upload stores a new profile picture and records its public URL in the
	// user's metadata. The previous picture is removed afterwards.
	Upload(ctx context.Context, userID string, data []byte) (string, error)
}

type avatarService struct {
	users     identity.Store
	storage   storage.Storage
	processor ImageProcessor
	logger    *slog.Logger
}

// NewAvatarService creates a new AvatarService.
func NewAvatarService(users identity.Store, store storage.Storage, processor ImageProcessor, logger *slog.Logger) AvatarService {
	return &avatarService{
		users:     users,
		storage:   store,
		processor: processor,
		logger:    logger,
	}
}

// Upload implements AvatarService.
func (s *avatarService) Upload(ctx context.Context, userID string, data []byte) (string, error) {
	const op = "AvatarService.Upload"

	if len(data) == 0 {
		return "", domain.Invalid(op, "No file uploaded")
	}
	if len(data) > MaxAvatarBytes {
		return "", domain.TooLarge(op, "Image must be 5MB or smaller")
	}
	if ct := storage.SniffContentType(data); !storage.IsAllowedAvatarType(ct) {
		return "", domain.Invalid(op, "Unsupported image type")
	}

	jpeg, err := s.processor.FitJPEG(data, AvatarMaxEdge)
	if err != nil {
		return "", domain.Wrap(err, domain.EINVALID, op, "Could not read image")
	}

	key := storage.AvatarKey(userID)
	if err := s.storage.Put(ctx, key, bytes.NewReader(jpeg), storage.PutOptions{
		ContentType:  "image/jpeg",
		CacheControl: "public, max-age=31536000, immutable",
	}); err != nil {
		s.logger.Error("failed to store avatar", "op", op, "user_id", userID, "error", err)
		return "", domain.Internal(err, op, "Failed to store image")
	}
	url, err := s.storage.PublicURL(key)
	if err != nil {
		return "", domain.Internal(err, op, "Failed to build image URL")
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		s.discard(ctx, key)
		return "", storeError(err, op)
	}
	previous := attrString(user.UserMetadata, MetaAvatarKey)

	meta := map[string]any{MetaAvatarURL: url, MetaAvatarKey: key}
	if err := s.users.MergeUserMetadata(ctx, userID, meta); err != nil {
		s.discard(ctx, key)
		return "", storeError(err, op)
	}

	if previous != "" && previous != key {
		s.discard(ctx, previous)
	}

	s.logger.Info("avatar updated", "user_id", userID, "size", len(jpeg))
	return url, nil
}

func (s *avatarService) discard(ctx context.Context, key string) {
	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to delete avatar", "key", key, "error", err)
	}
}

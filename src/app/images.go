package app

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"imghost/src/metrics"
)

var (
	// AllowedExtensions are the sniffed types an upload may have.
	AllowedExtensions = []string{"jpg", "jpeg", "png"}

	invalidCharsRegex = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
)

// ImageService is the upload and retrieval surface used by the HTTP handlers.
type ImageService struct {
	access *AccessControl
	images ImageStore
	blobs  BlobStore
	jobs   JobPublisher
	urls   URLBuilder
}

func NewImageService(access *AccessControl, images ImageStore, blobs BlobStore, jobs JobPublisher, urls URLBuilder) *ImageService {
	return &ImageService{
		access: access,
		images: images,
		blobs:  blobs,
		jobs:   jobs,
		urls:   urls,
	}
}

// SniffImage checks the content type of data regardless of any declared
// filename and returns the canonical extension and MIME type.
func SniffImage(data []byte) (string, string, error) {
	detected := mimetype.Detect(data)
	token := strings.ToLower(strings.TrimPrefix(detected.Extension(), "."))
	for _, allowed := range AllowedExtensions {
		if token == allowed {
			return detected.Extension(), detected.String(), nil
		}
	}
	return "", "", newError(KindUnsupportedFileType,
		"Invalid file extension. Allowed extensions are: %s", strings.Join(AllowedExtensions, ", "))
}

// Upload stores an original and publishes exactly one thumbnail job for it.
// The job runs out of band; a failed publish is logged, the upload still succeeds.
func (s *ImageService) Upload(ctx context.Context, caller Caller, data []byte, filename string) (*ImageRef, error) {
	ext, contentType, err := SniffImage(data)
	if err != nil {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return nil, &Error{Kind: KindUnsupportedFileType, Message: "File content is not a readable image", Err: err}
	}
	if _, err := s.access.ResolveOrCreateAccount(ctx, caller.UserID); err != nil {
		return nil, err
	}

	key := storageKey(caller.UserID, filename, ext)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("can not upload image: %w", err)
	}

	original := &Image{
		OwnerID:     caller.UserID,
		Width:       cfg.Width,
		Height:      cfg.Height,
		IsOriginal:  true,
		StoragePath: key,
		ContentType: contentType,
	}
	if err := s.images.CreateImage(ctx, original); err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			log.Ctx(ctx).Warn().Err(delErr).Str("path", key).Msg("orphan original blob left behind")
		}
		metrics.Uploads.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("can not save image record: %w", err)
	}
	metrics.Uploads.WithLabelValues("ok").Inc()

	job := ThumbnailJob{OwnerID: original.OwnerID, StoragePath: original.StoragePath, ImageID: original.ID}
	if err := s.jobs.Publish(ctx, job); err != nil {
		metrics.JobsDispatched.WithLabelValues("failed").Inc()
		log.Ctx(ctx).Error().Err(err).Uint("image_id", original.ID).Msg("thumbnail job not dispatched")
	} else {
		metrics.JobsDispatched.WithLabelValues("ok").Inc()
	}

	return &ImageRef{
		ID:          original.ID,
		StoragePath: original.StoragePath,
		URL:         s.urls.Media(original.StoragePath),
		Size:        original.Size(),
	}, nil
}

// List returns the variants of every original the caller owns, grouped per original.
func (s *ImageService) List(ctx context.Context, caller Caller) ([]Variant, error) {
	account, err := s.access.ResolveOrCreateAccount(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	originals, err := s.images.OriginalsOf(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("can not list images: %w", err)
	}
	result := make([]Variant, 0)
	for _, original := range originals {
		result = append(result, VisibleVariants(account.Tier, original, original.Thumbnails, s.urls)...)
	}
	return result, nil
}

// Get returns the variant set of one image. A thumbnail id resolves to its original.
func (s *ImageService) Get(ctx context.Context, caller Caller, imageID uint) ([]Variant, error) {
	img, err := s.images.ImageByID(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if err := s.access.CanAccess(caller, img); err != nil {
		return nil, err
	}
	if !img.IsOriginal && img.ParentID != nil {
		if img, err = s.images.ImageByID(ctx, *img.ParentID); err != nil {
			return nil, err
		}
	}

	account, err := s.access.ResolveOrCreateAccount(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	thumbnails, err := s.images.ThumbnailsOf(ctx, img.ID)
	if err != nil {
		return nil, fmt.Errorf("can not list thumbnails: %w", err)
	}
	return VisibleVariants(account.Tier, *img, thumbnails, s.urls), nil
}

// storageKey builds <owner>/<uuid>_<name><ext>. Only the base name of the
// declared filename is kept; its extension is replaced by the sniffed one.
func storageKey(ownerID, filename, ext string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = invalidCharsRegex.ReplaceAllString(base, "_")
	if len(base) > 100 {
		base = base[:100]
	}
	owner := invalidCharsRegex.ReplaceAllString(ownerID, "_")
	if base == "" || base == "." || base == "_" {
		return fmt.Sprintf("%s/%s%s", owner, uuid.NewString(), ext)
	}
	return fmt.Sprintf("%s/%s_%s%s", owner, uuid.NewString(), base, ext)
}

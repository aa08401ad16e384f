package app

import (
	"context"
	"io"
	"time"
)

type (
	// AccountStore persists accounts and tiers.
	AccountStore interface {
		// GetOrCreateAccount returns the account of userID, creating it on
		// tierName when absent. Concurrent first calls yield one row.
		GetOrCreateAccount(ctx context.Context, userID, tierName string) (*Account, error)
		SetAccountTier(ctx context.Context, userID, tierName string) (*Account, error)
		TierByName(ctx context.Context, name string) (*AccountTier, error)
	}

	ImageStore interface {
		// CreateImage inserts img. When img.ParentID is set the parent must
		// exist and be an original.
		CreateImage(ctx context.Context, img *Image) error
		ImageByID(ctx context.Context, id uint) (*Image, error)
		// ThumbnailsOf returns the thumbnails of parentID ordered by id.
		ThumbnailsOf(ctx context.Context, parentID uint) ([]Image, error)
		// OriginalsOf returns ownerID's originals ordered by id with their
		// thumbnails preloaded, also ordered by id.
		OriginalsOf(ctx context.Context, ownerID string) ([]Image, error)
	}

	LinkStore interface {
		CreateLink(ctx context.Context, link *ExpirationLink) error
		// LinkByID loads the link with its image.
		LinkByID(ctx context.Context, id string) (*ExpirationLink, error)
		// DeleteExpiredLink removes the link only when it expired at now.
		// It reports whether this call removed the row.
		DeleteExpiredLink(ctx context.Context, id string, now time.Time) (bool, error)
	}

	// BlobStore holds image bytes under storage paths.
	BlobStore interface {
		Put(ctx context.Context, key string, object io.Reader, size int64, contentType string) error
		Get(ctx context.Context, key string) ([]byte, error)
		Delete(ctx context.Context, key string) error
	}

	// JobPublisher hands thumbnail jobs to the background pipeline.
	// Publish must not block on job execution.
	JobPublisher interface {
		Publish(ctx context.Context, job ThumbnailJob) error
	}
)

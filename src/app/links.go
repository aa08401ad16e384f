package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"imghost/src/metrics"
)

const (
	MinExpirationSeconds = 300
	MaxExpirationSeconds = 30000
)

// LinkService creates and resolves expiration links.
// A link is active until ExpiresAt; the first resolve at or after the
// deadline deletes it and reports Expired. There is no renewal.
type LinkService struct {
	access *AccessControl
	images ImageStore
	links  LinkStore
	urls   URLBuilder
	now    func() time.Time
}

func NewLinkService(access *AccessControl, images ImageStore, links LinkStore, urls URLBuilder) *LinkService {
	return &LinkService{
		access: access,
		images: images,
		links:  links,
		urls:   urls,
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (s *LinkService) WithClock(now func() time.Time) *LinkService {
	s.now = now
	return s
}

func ValidateExpiration(ttlSeconds int) error {
	if ttlSeconds < MinExpirationSeconds {
		return newError(KindInvalidExpiration, "expires_in must be greater than or equal to %d seconds", MinExpirationSeconds)
	}
	if ttlSeconds > MaxExpirationSeconds {
		return newError(KindInvalidExpiration, "expires_in must be less than or equal to %d seconds", MaxExpirationSeconds)
	}
	return nil
}

// Create mints a link for imageID valid for ttlSeconds.
func (s *LinkService) Create(ctx context.Context, caller Caller, imageID uint, ttlSeconds int) (*ExpirationLink, string, error) {
	account, err := s.access.ResolveOrCreateAccount(ctx, caller.UserID)
	if err != nil {
		return nil, "", err
	}
	if !account.Tier.AllowExpirationLink {
		metrics.Links.WithLabelValues("create", "not_entitled").Inc()
		return nil, "", newError(KindFeatureNotEntitled,
			"You don't have permission to access this feature. Consider upgrading your membership")
	}

	img, err := s.images.ImageByID(ctx, imageID)
	if err != nil {
		return nil, "", err
	}
	if err := s.access.CanAccess(caller, img); err != nil {
		return nil, "", err
	}
	if err := ValidateExpiration(ttlSeconds); err != nil {
		return nil, "", err
	}

	link := &ExpirationLink{
		ID:        uuid.NewString(),
		ImageID:   img.ID,
		ExpiresAt: s.now().Add(time.Duration(ttlSeconds) * time.Second).UTC(),
	}
	if err := s.links.CreateLink(ctx, link); err != nil {
		return nil, "", err
	}
	link.Image = *img
	metrics.Links.WithLabelValues("create", "ok").Inc()
	log.Ctx(ctx).Info().Str("link", link.ID).Uint("image_id", img.ID).Time("expires_at", link.ExpiresAt).Msg("expiration link created")
	return link, s.urls.ExpirationLink(link.ID), nil
}

// Resolve returns the linked image and its variant while the link is active.
// Every resolver that observes the deadline gets Expired, whether or not its
// own delete removed the row; later resolvers get NotFound.
func (s *LinkService) Resolve(ctx context.Context, linkID string) (*Image, Variant, error) {
	if _, err := uuid.Parse(linkID); err != nil {
		return nil, Variant{}, newError(KindNotFound, "Expiration link not found")
	}
	link, err := s.links.LinkByID(ctx, linkID)
	if err != nil {
		metrics.Links.WithLabelValues("resolve", "not_found").Inc()
		return nil, Variant{}, err
	}

	if now := s.now(); link.Expired(now) {
		deleted, err := s.links.DeleteExpiredLink(ctx, link.ID, now)
		if err != nil {
			return nil, Variant{}, err
		}
		if deleted {
			log.Ctx(ctx).Info().Str("link", link.ID).Msg("expired link deleted")
		}
		metrics.Links.WithLabelValues("resolve", "expired").Inc()
		return nil, Variant{}, newError(KindExpired, "This link expired")
	}

	metrics.Links.WithLabelValues("resolve", "ok").Inc()
	return &link.Image, s.urls.Variant(link.Image), nil
}

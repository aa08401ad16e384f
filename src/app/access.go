package app

import (
	"context"
	"fmt"
)

// AccessControl decides who may read which image and which variants a tier exposes.
type AccessControl struct {
	accounts    AccountStore
	defaultTier string
}

func NewAccessControl(accounts AccountStore, defaultTier string) *AccessControl {
	return &AccessControl{accounts: accounts, defaultTier: defaultTier}
}

// ResolveOrCreateAccount returns the caller's account, creating it on the
// default tier on first access.
func (a *AccessControl) ResolveOrCreateAccount(ctx context.Context, userID string) (*Account, error) {
	account, err := a.accounts.GetOrCreateAccount(ctx, userID, a.defaultTier)
	if err != nil {
		return nil, fmt.Errorf("can not resolve account %s: %w", userID, err)
	}
	return account, nil
}

// CanAccess grants access to the owner and to staff.
func (a *AccessControl) CanAccess(caller Caller, img *Image) error {
	if caller.Staff || img.OwnerID == caller.UserID {
		return nil
	}
	return newError(KindAccessDenied, "Access to this image was denied")
}

// ChangeTier moves userID's account to tierName. Only staff may do this.
func (a *AccessControl) ChangeTier(ctx context.Context, caller Caller, userID, tierName string) (*Account, error) {
	if !caller.Staff {
		return nil, newError(KindAccessDenied, "Only staff can change account tiers")
	}
	if _, err := a.ResolveOrCreateAccount(ctx, userID); err != nil {
		return nil, err
	}
	return a.accounts.SetAccountTier(ctx, userID, tierName)
}

// VisibleVariants lists the original (when the tier allows it) followed by its thumbnails.
func VisibleVariants(tier AccountTier, original Image, thumbnails []Image, urls URLBuilder) []Variant {
	result := make([]Variant, 0, len(thumbnails)+1)
	if tier.AllowOriginalLink {
		result = append(result, urls.Variant(original))
	}
	for _, thumbnail := range thumbnails {
		result = append(result, urls.Variant(thumbnail))
	}
	return result
}

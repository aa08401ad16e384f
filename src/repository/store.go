package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	app "imghost/src/app"
)

// Store persists tiers, accounts, images and expiration links with gorm.
type Store struct {
	db *gorm.DB
}

func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(zerologWriter{})})
	if err != nil {
		return nil, fmt.Errorf("can not open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// sqlite allows one writer; a single connection also keeps :memory: databases alive.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("can not access sqlite pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&app.AccountTier{}, &app.Account{}, &app.Image{}, &app.ExpirationLink{}); err != nil {
		return fmt.Errorf("can not migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ProvisionTiers upserts tiers by name. Sizes are validated before anything is written.
func (s *Store) ProvisionTiers(ctx context.Context, tiers []app.AccountTier) error {
	for _, tier := range tiers {
		if _, err := tier.Sizes(); err != nil {
			return fmt.Errorf("tier %s: %w", tier.Name, err)
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range tiers {
			tier := tiers[i]
			tier.ID = 0
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"thumbnail_sizes", "allow_original_link", "allow_expiration_link"}),
			}).Create(&tier).Error
			if err != nil {
				return fmt.Errorf("can not provision tier %s: %w", tier.Name, err)
			}
		}
		return nil
	})
}

func (s *Store) TierByName(ctx context.Context, name string) (*app.AccountTier, error) {
	var tier app.AccountTier
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&tier).Error; err != nil {
		return nil, notFound(err, "Account tier %s not found", name)
	}
	return &tier, nil
}

// GetOrCreateAccount relies on the unique user_id index: the insert is a
// no-op when a concurrent caller won, and the row is re-read either way.
func (s *Store) GetOrCreateAccount(ctx context.Context, userID, tierName string) (*app.Account, error) {
	account, err := s.accountByUser(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, app.ErrNotFound) {
		return nil, err
	}

	tier, err := s.TierByName(ctx, tierName)
	if err != nil {
		return nil, err
	}
	candidate := app.Account{UserID: userID, TierID: tier.ID}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Omit(clause.Associations).
		Create(&candidate).Error
	if err != nil {
		return nil, fmt.Errorf("can not create account %s: %w", userID, err)
	}
	return s.accountByUser(ctx, userID)
}

func (s *Store) SetAccountTier(ctx context.Context, userID, tierName string) (*app.Account, error) {
	tier, err := s.TierByName(ctx, tierName)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&app.Account{}).Where("user_id = ?", userID).Update("tier_id", tier.ID)
	if res.Error != nil {
		return nil, fmt.Errorf("can not update account %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, app.NotFoundf("Account %s not found", userID)
	}
	return s.accountByUser(ctx, userID)
}

func (s *Store) accountByUser(ctx context.Context, userID string) (*app.Account, error) {
	var account app.Account
	if err := s.db.WithContext(ctx).Preload("Tier").Where("user_id = ?", userID).First(&account).Error; err != nil {
		return nil, notFound(err, "Account %s not found", userID)
	}
	return &account, nil
}

// CreateImage enforces single-level derivation: a parent must be an original.
func (s *Store) CreateImage(ctx context.Context, img *app.Image) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if img.ParentID != nil {
			if img.IsOriginal {
				return fmt.Errorf("original image can not have a parent")
			}
			var parent app.Image
			if err := tx.First(&parent, *img.ParentID).Error; err != nil {
				return notFound(err, "Parent image %d not found", *img.ParentID)
			}
			if !parent.IsOriginal {
				return fmt.Errorf("image %d is a thumbnail and can not have thumbnails", parent.ID)
			}
		}
		if err := tx.Omit(clause.Associations).Create(img).Error; err != nil {
			return fmt.Errorf("can not insert image %s: %w", img.StoragePath, err)
		}
		return nil
	})
}

func (s *Store) ImageByID(ctx context.Context, id uint) (*app.Image, error) {
	var img app.Image
	if err := s.db.WithContext(ctx).First(&img, id).Error; err != nil {
		return nil, notFound(err, "Image %d not found", id)
	}
	return &img, nil
}

func (s *Store) ThumbnailsOf(ctx context.Context, parentID uint) ([]app.Image, error) {
	var thumbnails []app.Image
	err := s.db.WithContext(ctx).Where("parent_id = ?", parentID).Order("id").Find(&thumbnails).Error
	return thumbnails, err
}

func (s *Store) OriginalsOf(ctx context.Context, ownerID string) ([]app.Image, error) {
	var originals []app.Image
	err := s.db.WithContext(ctx).
		Preload("Thumbnails", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("owner_id = ? AND is_original = ?", ownerID, true).
		Order("id").
		Find(&originals).Error
	return originals, err
}

func (s *Store) CreateLink(ctx context.Context, link *app.ExpirationLink) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(link).Error; err != nil {
		return fmt.Errorf("can not insert expiration link: %w", err)
	}
	return nil
}

func (s *Store) LinkByID(ctx context.Context, id string) (*app.ExpirationLink, error) {
	var link app.ExpirationLink
	if err := s.db.WithContext(ctx).Preload("Image").Where("id = ?", id).First(&link).Error; err != nil {
		return nil, notFound(err, "Expiration link not found")
	}
	return &link, nil
}

func (s *Store) DeleteExpiredLink(ctx context.Context, id string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND expires_at <= ?", id, now.UTC()).
		Delete(&app.ExpirationLink{})
	if res.Error != nil {
		return false, fmt.Errorf("can not delete expiration link %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return app.NotFoundf(format, args...)
	}
	return fmt.Errorf("database error: %w", err)
}

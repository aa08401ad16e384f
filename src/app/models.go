package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AccountTier is a named policy bundle. It is provisioned at startup and
// read-only while serving requests.
type AccountTier struct {
	ID                  uint   `gorm:"primaryKey" json:"id"`
	Name                string `gorm:"uniqueIndex;size:150;not null" json:"name"`
	ThumbnailSizes      string `gorm:"size:150;not null" json:"thumbnail_sizes"`
	AllowOriginalLink   bool   `gorm:"not null" json:"original_link"`
	AllowExpirationLink bool   `gorm:"not null" json:"expiration_link"`
}

func (AccountTier) TableName() string {
	return "account_tier"
}

// Sizes parses ThumbnailSizes ("200, 400") preserving order and duplicates.
func (t AccountTier) Sizes() ([]int, error) {
	return ParseThumbnailSizes(t.ThumbnailSizes)
}

func ParseThumbnailSizes(spec string) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	sizes := make([]int, 0, len(parts))
	for _, part := range parts {
		size, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("thumbnail size %q is not an integer", part)
		}
		if size <= 0 {
			return nil, fmt.Errorf("thumbnail size %d is not positive", size)
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}

type Account struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	UserID    string      `gorm:"uniqueIndex;size:150;not null" json:"user_id"`
	TierID    uint        `gorm:"not null" json:"tier_id"`
	Tier      AccountTier `gorm:"constraint:OnDelete:RESTRICT" json:"tier"`
	CreatedAt time.Time   `json:"created_at"`
}

func (Account) TableName() string {
	return "account"
}

// Image is either an original upload or a thumbnail derived from one.
// A thumbnail always has ParentID set to an original; there is no deeper nesting.
type Image struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OwnerID     string    `gorm:"index;size:150;not null" json:"owner_id"`
	Width       int       `gorm:"not null" json:"width"`
	Height      int       `gorm:"not null" json:"height"`
	IsOriginal  bool      `gorm:"not null" json:"is_original"`
	StoragePath string    `gorm:"uniqueIndex;size:512;not null" json:"storage_path"`
	ContentType string    `gorm:"size:64" json:"content_type"`
	ParentID    *uint     `gorm:"index" json:"parent_id,omitempty"`
	Thumbnails  []Image   `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Image) TableName() string {
	return "image"
}

func (i Image) Size() string {
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}

type ExpirationLink struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ImageID   uint      `gorm:"index;not null" json:"image_id"`
	Image     Image     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (ExpirationLink) TableName() string {
	return "expiration_link"
}

// Expired reports whether the link is past its deadline at now.
func (l ExpirationLink) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Variant is one entry of a listing: a size label and a public URL.
type Variant struct {
	Size string `json:"size"`
	URL  string `json:"url"`
}

// ImageRef is returned to the uploader.
type ImageRef struct {
	ID          uint   `json:"id"`
	StoragePath string `json:"storage_path"`
	URL         string `json:"url"`
	Size        string `json:"size"`
}

// ThumbnailJob is published once per successful original upload.
type ThumbnailJob struct {
	OwnerID     string `json:"owner_id"`
	StoragePath string `json:"storage_path"`
	ImageID     uint   `json:"image_id"`
}

package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"imghost/src/metrics"
)

type (
	// ThumbnailPipeline derives the tier-prescribed thumbnails of one original.
	ThumbnailPipeline struct {
		access  *AccessControl
		images  ImageStore
		blobs   BlobStore
		resizer *Resizer
	}

	SizeFailure struct {
		Size int
		Key  string
		Err  error
	}

	PipelineReport struct {
		ImageID uint
		Created []Image
		// Skipped holds storage paths of thumbnails that already existed.
		Skipped []string
		Failed  []SizeFailure
	}

	thumbnailPlan struct {
		size int
		key  string
	}
)

func NewThumbnailPipeline(access *AccessControl, images ImageStore, blobs BlobStore, resizer *Resizer) *ThumbnailPipeline {
	return &ThumbnailPipeline{
		access:  access,
		images:  images,
		blobs:   blobs,
		resizer: resizer,
	}
}

// Handle runs the job and only returns its error; it is the queue consumer entry point.
func (p *ThumbnailPipeline) Handle(ctx context.Context, job ThumbnailJob) error {
	_, err := p.Run(ctx, job)
	return err
}

// Run processes every size of the owner's tier in list order. Sizes already
// present are skipped, so a re-run after partial failure only fills the gaps.
// Each size is independent: a failure is logged and joined into the returned
// error without touching sizes that succeeded.
func (p *ThumbnailPipeline) Run(ctx context.Context, job ThumbnailJob) (*PipelineReport, error) {
	started := time.Now()
	defer func() { metrics.JobLatency.Observe(time.Since(started).Seconds()) }()

	logger := log.Ctx(ctx).With().Uint("image_id", job.ImageID).Str("owner", job.OwnerID).Logger()

	account, err := p.access.ResolveOrCreateAccount(ctx, job.OwnerID)
	if err != nil {
		return nil, err
	}
	sizes, err := account.Tier.Sizes()
	if err != nil {
		return nil, fmt.Errorf("tier %s has invalid thumbnail sizes: %w", account.Tier.Name, err)
	}

	original, err := p.images.ImageByID(ctx, job.ImageID)
	if err != nil {
		return nil, err
	}
	if !original.IsOriginal || original.OwnerID != job.OwnerID || original.StoragePath != job.StoragePath {
		return nil, fmt.Errorf("image %d does not match job for %s at %s", job.ImageID, job.OwnerID, job.StoragePath)
	}

	existing, err := p.images.ThumbnailsOf(ctx, original.ID)
	if err != nil {
		return nil, fmt.Errorf("can not list thumbnails of %d: %w", original.ID, err)
	}
	present := make(map[string]bool, len(existing))
	for _, thumbnail := range existing {
		present[thumbnail.StoragePath] = true
	}

	report := &PipelineReport{ImageID: original.ID}
	pending := make([]thumbnailPlan, 0, len(sizes))
	for _, plan := range planThumbnails(original.StoragePath, sizes) {
		if present[plan.key] {
			report.Skipped = append(report.Skipped, plan.key)
			continue
		}
		pending = append(pending, plan)
	}
	metrics.Thumbnails.WithLabelValues("skipped").Add(float64(len(report.Skipped)))
	if len(pending) == 0 {
		logger.Debug().Int("skipped", len(report.Skipped)).Msg("thumbnails already present")
		return report, nil
	}

	src, format, err := p.loadOriginal(ctx, original)
	if err != nil {
		for _, plan := range pending {
			report.fail(plan, err)
		}
		return report, report.log(logger)
	}

	for _, plan := range pending {
		thumbnail, err := p.thumbnail(ctx, original, src, format, plan)
		if err != nil {
			report.fail(plan, err)
			continue
		}
		metrics.Thumbnails.WithLabelValues("created").Inc()
		logger.Info().Int("size", plan.size).Str("path", thumbnail.StoragePath).Msg("thumbnail created")
		report.Created = append(report.Created, *thumbnail)
	}
	return report, report.log(logger)
}

func (p *ThumbnailPipeline) loadOriginal(ctx context.Context, original *Image) (image.Image, imaging.Format, error) {
	format, err := imaging.FormatFromFilename(original.StoragePath)
	if err != nil {
		return nil, 0, fmt.Errorf("can not detect format of %s: %w", original.StoragePath, err)
	}
	data, err := p.blobs.Get(ctx, original.StoragePath)
	if err != nil {
		return nil, 0, fmt.Errorf("can not read original %s: %w", original.StoragePath, err)
	}
	src, err := p.resizer.Decode(data)
	if err != nil {
		return nil, 0, err
	}
	return src, format, nil
}

func (p *ThumbnailPipeline) thumbnail(ctx context.Context, original *Image, src image.Image, format imaging.Format, plan thumbnailPlan) (*Image, error) {
	data, err := p.resizer.Square(src, plan.size, format)
	if err != nil {
		return nil, err
	}
	if err := p.blobs.Put(ctx, plan.key, bytes.NewReader(data), int64(len(data)), original.ContentType); err != nil {
		return nil, fmt.Errorf("can not store thumbnail: %w", err)
	}

	parentID := original.ID
	thumbnail := &Image{
		OwnerID:     original.OwnerID,
		Width:       plan.size,
		Height:      plan.size,
		IsOriginal:  false,
		StoragePath: plan.key,
		ContentType: original.ContentType,
		ParentID:    &parentID,
	}
	if err := p.images.CreateImage(ctx, thumbnail); err != nil {
		if delErr := p.blobs.Delete(ctx, plan.key); delErr != nil {
			log.Ctx(ctx).Warn().Err(delErr).Str("path", plan.key).Msg("orphan thumbnail blob left behind")
		}
		return nil, fmt.Errorf("can not save thumbnail record: %w", err)
	}
	return thumbnail, nil
}

func (r *PipelineReport) fail(plan thumbnailPlan, err error) {
	r.Failed = append(r.Failed, SizeFailure{Size: plan.size, Key: plan.key, Err: err})
}

func (r *PipelineReport) log(logger zerolog.Logger) error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, failure := range r.Failed {
		metrics.Thumbnails.WithLabelValues("failed").Inc()
		logger.Error().Err(failure.Err).Int("size", failure.Size).Msg("thumbnail failed")
		errs = append(errs, fmt.Errorf("size %d: %w", failure.Size, failure.Err))
	}
	return errors.Join(errs...)
}

// planThumbnails maps each listed size to its storage key. The n-th repeat of
// a size gets an _n suffix so duplicates keep their own thumbnail.
func planThumbnails(storagePath string, sizes []int) []thumbnailPlan {
	ext := path.Ext(storagePath)
	root := strings.TrimSuffix(storagePath, ext)
	seen := make(map[int]int, len(sizes))
	plans := make([]thumbnailPlan, 0, len(sizes))
	for _, size := range sizes {
		seen[size]++
		key := fmt.Sprintf("%s_%dx%d%s", root, size, size, ext)
		if n := seen[size]; n > 1 {
			key = fmt.Sprintf("%s_%dx%d_%d%s", root, size, size, n, ext)
		}
		plans = append(plans, thumbnailPlan{size: size, key: key})
	}
	return plans
}

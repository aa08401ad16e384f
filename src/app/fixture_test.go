package app_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	app "imghost/src/app"
	"imghost/src/repository"
)

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []app.ThumbnailJob
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, job app.ThumbnailJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

type fixture struct {
	store    *repository.Store
	blobs    *repository.MemoryBlobStore
	access   *app.AccessControl
	urls     app.URLBuilder
	jobs     *recordingPublisher
	images   *app.ImageService
	links    *app.LinkService
	pipeline *app.ThumbnailPipeline

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := repository.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate())
	require.NoError(t, store.ProvisionTiers(ctx, []app.AccountTier{
		{Name: "Basic", ThumbnailSizes: "200"},
		{Name: "Premium", ThumbnailSizes: "200, 400", AllowOriginalLink: true},
		{Name: "Enterprise", ThumbnailSizes: "200, 400", AllowOriginalLink: true, AllowExpirationLink: true},
		{Name: "Repeats", ThumbnailSizes: "100, 100"},
		{Name: "Empty", ThumbnailSizes: ""},
	}))

	f := &fixture{
		store: store,
		blobs: repository.NewMemoryBlobStore(),
		urls:  app.NewURLBuilder("http://img.test/"),
		jobs:  &recordingPublisher{},
		now:   time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.access = app.NewAccessControl(store, "Basic")
	f.images = app.NewImageService(f.access, store, f.blobs, f.jobs, f.urls)
	f.links = app.NewLinkService(f.access, store, store, f.urls).WithClock(f.clock)
	f.pipeline = app.NewThumbnailPipeline(f.access, store, f.blobs, app.NewResizer())
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fixture) setTier(t *testing.T, userID, tier string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.access.ResolveOrCreateAccount(ctx, userID)
	require.NoError(t, err)
	_, err = f.store.SetAccountTier(ctx, userID, tier)
	require.NoError(t, err)
}

// upload stores a PNG for userID and returns the original and its job.
func (f *fixture) upload(t *testing.T, userID string) (*app.ImageRef, app.ThumbnailJob) {
	t.Helper()
	ref, err := f.images.Upload(context.Background(), app.Caller{UserID: userID}, pngBytes(t, 64, 48), "photo.png")
	require.NoError(t, err)

	f.jobs.mu.Lock()
	defer f.jobs.mu.Unlock()
	require.NotEmpty(t, f.jobs.jobs)
	job := f.jobs.jobs[len(f.jobs.jobs)-1]
	require.Equal(t, ref.ID, job.ImageID)
	return ref, job
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var errBroker = errors.New("broker unavailable")

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "imghost/src/app"
	cfg "imghost/src/configuration"
	db "imghost/src/repository"
)

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []app.ThumbnailJob
}

func (p *recordingPublisher) Publish(ctx context.Context, job app.ThumbnailJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPublisher) drain() []app.ThumbnailJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	jobs := p.jobs
	p.jobs = nil
	return jobs
}

type testServer struct {
	router   *gin.Engine
	jobs     *recordingPublisher
	pipeline *app.ThumbnailPipeline
	now      time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	config := &cfg.Properties{}
	config.Server.RootDomain = "http://img.test"
	config.Server.MaxUploadBytes = 1 << 20
	config.Server.AllowOrigins = []string{"http://localhost:3000"}
	config.Auth.AccessTokenCookieName = "cb_access_token"

	store, err := db.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate())
	require.NoError(t, ProvisionTiers(ctx, config, store))

	ts := &testServer{
		jobs: &recordingPublisher{},
		now:  time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	blobs := db.NewMemoryBlobStore()
	access := app.NewAccessControl(store, cfg.DefaultTierName)
	urls := app.NewURLBuilder(config.Server.RootDomain)
	ts.pipeline = app.NewThumbnailPipeline(access, store, blobs, app.NewResizer())
	links := app.NewLinkService(access, store, store, urls).WithClock(func() time.Time { return ts.now })

	sessions, err := db.NewAuthDataBase(config)
	require.NoError(t, err)
	require.True(t, sessions.Connect())
	require.NoError(t, sessions.UploadUser("alice-token", app.Caller{UserID: "alice"}))
	require.NoError(t, sessions.UploadUser("bob-token", app.Caller{UserID: "bob"}))
	require.NoError(t, sessions.UploadUser("staff-token", app.Caller{UserID: "admin", Staff: true}))
	auth := &AuthHandler{dataStore: sessions, AccessTokenCookieName: config.Auth.AccessTokenCookieName}

	handler := NewAppHandler(config, app.NewImageService(access, store, blobs, ts.jobs, urls), links, access, blobs)
	ts.router = NewRouter(config, handler, auth)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) upload(t *testing.T, token, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(uploadFormField, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return ts.do(t, http.MethodPost, "/images/", token, body.Bytes(), mw.FormDataContentType())
}

// uploadAndProcess uploads a PNG and runs the queued thumbnail job.
func (ts *testServer) uploadAndProcess(t *testing.T, token string) uint {
	t.Helper()
	w := ts.upload(t, token, "holiday.png", pngBytes(t, 64, 48))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Image app.ImageRef `json:"image"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	jobs := ts.jobs.drain()
	require.Len(t, jobs, 1)
	require.NoError(t, ts.pipeline.Handle(context.Background(), jobs[0]))
	return resp.Image.ID
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func imagesOf(t *testing.T, w *httptest.ResponseRecorder) []app.Variant {
	t.Helper()
	var out struct {
		Images []app.Variant `json:"images"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out.Images
}

func jsonBody(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestAuthorization(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/images/", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/images/", "unknown-token", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/images/", nil)
	req.AddCookie(&http.Cookie{Name: "cb_access_token", Value: "alice-token"})
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	w = ts.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUploadImage(t *testing.T) {
	ts := newTestServer(t)

	t.Run("png upload dispatches one job", func(t *testing.T) {
		w := ts.upload(t, "alice-token", "cat.png", pngBytes(t, 32, 32))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		jobs := ts.jobs.drain()
		require.Len(t, jobs, 1)
		assert.Equal(t, "alice", jobs[0].OwnerID)
		assert.True(t, strings.HasPrefix(jobs[0].StoragePath, "alice/"))
		assert.True(t, strings.HasSuffix(jobs[0].StoragePath, "_cat.png"))
	})

	t.Run("non image with png name is rejected", func(t *testing.T) {
		w := ts.upload(t, "alice-token", "notes.png", []byte("just some text, not an image"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(app.KindUnsupportedFileType), decode(t, w)["error"])
		assert.Empty(t, ts.jobs.drain())
	})

	t.Run("missing file field", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/images/", "alice-token", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListAndGetImages(t *testing.T) {
	ts := newTestServer(t)
	id := ts.uploadAndProcess(t, "alice-token")

	t.Run("basic tier sees thumbnails only", func(t *testing.T) {
		images := imagesOf(t, ts.do(t, http.MethodGet, "/images/", "alice-token", nil, ""))
		require.Len(t, images, 1)
		assert.Equal(t, "200x200", images[0].Size)
		assert.True(t, strings.HasPrefix(images[0].URL, "http://img.test/media/images/alice/"))

		w := ts.do(t, http.MethodGet, strings.TrimPrefix(images[0].URL, "http://img.test"), "", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	})

	t.Run("owner and staff may read, others may not", func(t *testing.T) {
		path := "/images/" + itoa(id) + "/"
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, "alice-token", nil, "").Code)
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, "staff-token", nil, "").Code)

		w := ts.do(t, http.MethodGet, path, "bob-token", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decode(t, w)
		assert.Equal(t, string(app.KindAccessDenied), body["error"])
		assert.Equal(t, "Access to this image was denied", body["message"])
	})

	t.Run("missing image", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/images/9999/", "alice-token", nil, "").Code)
		assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/images/abc/", "alice-token", nil, "").Code)
	})

	t.Run("premium tier also sees the original", func(t *testing.T) {
		w := ts.do(t, http.MethodPut, "/admin/accounts/alice/tier", "staff-token", jsonBody(t, gin.H{"tier": "Premium"}), "application/json")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		images := imagesOf(t, ts.do(t, http.MethodGet, "/images/", "alice-token", nil, ""))
		require.Len(t, images, 2)
		assert.Equal(t, "64x48", images[0].Size)
		assert.Equal(t, "200x200", images[1].Size)
	})
}

func TestAdminTier(t *testing.T) {
	ts := newTestServer(t)
	body := jsonBody(t, gin.H{"tier": "Enterprise"})

	w := ts.do(t, http.MethodPut, "/admin/accounts/alice/tier", "alice-token", body, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(app.KindAccessDenied), decode(t, w)["error"])

	w = ts.do(t, http.MethodPut, "/admin/accounts/alice/tier", "staff-token", jsonBody(t, gin.H{"tier": "Gold"}), "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPut, "/admin/accounts/alice/tier", "staff-token", body, "application/json")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExpirationLinks(t *testing.T) {
	ts := newTestServer(t)
	id := ts.uploadAndProcess(t, "alice-token")
	createPath := "/images/" + itoa(id) + "/expiration_link/"

	w := ts.do(t, http.MethodPost, createPath, "alice-token", jsonBody(t, gin.H{"expires_in": 300}), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(app.KindFeatureNotEntitled), decode(t, w)["error"])

	w = ts.do(t, http.MethodPut, "/admin/accounts/alice/tier", "staff-token", jsonBody(t, gin.H{"tier": "Enterprise"}), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("bounds", func(t *testing.T) {
		for _, ttl := range []int{299, 30001} {
			w := ts.do(t, http.MethodPost, createPath, "alice-token", jsonBody(t, gin.H{"expires_in": ttl}), "application/json")
			assert.Equal(t, http.StatusBadRequest, w.Code, "ttl %d", ttl)
			assert.Equal(t, string(app.KindInvalidExpiration), decode(t, w)["error"])
		}
		w := ts.do(t, http.MethodPost, createPath, "alice-token", jsonBody(t, gin.H{"expires_in": "soon"}), "application/json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("staff on basic tier can not share", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, createPath, "staff-token", jsonBody(t, gin.H{"expires_in": 300}), "application/json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(app.KindFeatureNotEntitled), decode(t, w)["error"])
	})

	t.Run("resolve until expiry", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, createPath, "alice-token", jsonBody(t, gin.H{"expires_in": 300}), "application/json")
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		url, _ := decode(t, w)["url"].(string)
		require.True(t, strings.HasPrefix(url, "http://img.test/images/expiration_link/"))
		require.True(t, strings.HasSuffix(url, "/"), "handed out link must match the route without a redirect")

		for i := 0; i < 2; i++ {
			w = ts.do(t, http.MethodGet, url, "", nil, "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			body := decode(t, w)
			assert.Equal(t, "64x48", body["size"])
			assert.Contains(t, body["image"], "/media/images/alice/")
		}

		ts.now = ts.now.Add(300 * time.Second)
		w = ts.do(t, http.MethodGet, url, "", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "This link expired", decode(t, w)["message"])

		w = ts.do(t, http.MethodGet, url, "", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed link id", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/images/expiration_link/not-a-uuid/", "", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAbortWithError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{app.ErrExpired, http.StatusBadRequest, "Expired"},
		{app.NotFoundf("Image 1 not found"), http.StatusNotFound, "NotFound"},
		{assert.AnError, http.StatusInternalServerError, "InternalError"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		abortWithError(c, tc.err)
		assert.Equal(t, tc.status, w.Code)
		assert.Equal(t, tc.kind, decode(t, w)["error"])
	}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

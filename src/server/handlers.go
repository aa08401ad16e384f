package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	app "imghost/src/app"
	cfg "imghost/src/configuration"
)

type (
	AppHandler struct {
		images         *app.ImageService
		links          *app.LinkService
		access         *app.AccessControl
		blobs          app.BlobStore
		maxUploadBytes int64
	}

	PostExpirationLinkBody struct {
		ExpiresIn *int `json:"expires_in"`
	}

	PutAccountTierBody struct {
		Tier string `json:"tier" binding:"required"`
	}
)

const (
	uploadFormField = "file"
	imageIDParam    = "imageId"
	linkIDParam     = "linkId"
	userIDParam     = "userId"
)

func NewAppHandler(config *cfg.Properties, images *app.ImageService, links *app.LinkService, access *app.AccessControl, blobs app.BlobStore) *AppHandler {
	return &AppHandler{
		images:         images,
		links:          links,
		access:         access,
		blobs:          blobs,
		maxUploadBytes: config.Server.MaxUploadBytes,
	}
}

func (a *AppHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (a *AppHandler) PostImage(c *gin.Context) {
	file, header, err := c.Request.FormFile(uploadFormField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": fmt.Sprintf("can not find %s in request", uploadFormField)})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, a.maxUploadBytes+1))
	if err != nil {
		abortWithError(c, fmt.Errorf("failed to read file: %w", err))
		return
	}
	if int64(len(data)) > a.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "TooLarge", "message": fmt.Sprintf("file exceeds %d bytes", a.maxUploadBytes)})
		return
	}

	ref, err := a.images.Upload(c.Request.Context(), callerFrom(c), data, header.Filename)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Image uploaded successfully", "image": ref})
}

func (a *AppHandler) GetImageList(c *gin.Context) {
	variants, err := a.images.List(c.Request.Context(), callerFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": variants})
}

func (a *AppHandler) GetImage(c *gin.Context) {
	id, err := parseImageID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	variants, err := a.images.Get(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": variants})
}

func (a *AppHandler) PostExpirationLink(c *gin.Context) {
	id, err := parseImageID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	var body PostExpirationLinkBody
	if err := c.ShouldBindJSON(&body); err != nil || body.ExpiresIn == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": app.KindInvalidExpiration, "message": "expires_in is required and must be an integer"})
		return
	}

	_, url, err := a.links.Create(c.Request.Context(), callerFrom(c), id, *body.ExpiresIn)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

func (a *AppHandler) GetExpirationLink(c *gin.Context) {
	_, variant, err := a.links.Resolve(c.Request.Context(), c.Param(linkIDParam))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": variant.URL, "size": variant.Size})
}

func (a *AppHandler) PutAccountTier(c *gin.Context) {
	var body PutAccountTierBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": "tier is required"})
		return
	}
	account, err := a.access.ChangeTier(c.Request.Context(), callerFrom(c), c.Param(userIDParam), body.Tier)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": account})
}

// GetMedia streams stored bytes so built image URLs resolve.
func (a *AppHandler) GetMedia(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("path"), "/")
	if key == "" || strings.Contains(key, "..") {
		abortWithError(c, app.NotFoundf("Image not found"))
		return
	}
	data, err := a.blobs.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			abortWithError(c, app.NotFoundf("Image not found"))
			return
		}
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}

func parseImageID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param(imageIDParam), 10, 0)
	if err != nil || id == 0 {
		return 0, app.NotFoundf("Image %s not found", c.Param(imageIDParam))
	}
	return uint(id), nil
}

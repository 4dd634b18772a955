package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zots0127/filegate/internal/cdn"
	"github.com/zots0127/filegate/internal/domain/entities"
	"github.com/zots0127/filegate/internal/usecase"
)

// API exposes the gateway over HTTP. Handlers only translate between HTTP
// and the coordinator; every decision lives below this layer.
type API struct {
	coordinator *usecase.Coordinator
	signer      *cdn.Signer
	apiKey      string
}

func NewAPI(coordinator *usecase.Coordinator, signer *cdn.Signer, apiKey string) *API {
	return &API{
		coordinator: coordinator,
		signer:      signer,
		apiKey:      apiKey,
	}
}

func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", a.health)

	authed := router.Group("/")
	authed.Use(a.authMiddleware())

	authed.POST("/upload", a.uploadFile)
	authed.GET("/download/:id", a.downloadFile)
	authed.GET("/files", a.listFiles)
	authed.GET("/files/:id/metadata", a.getMetadata)
	authed.DELETE("/files/:id", a.deleteFile)
	authed.GET("/admin/orphans", a.listOrphans)
}

func (a *API) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey != a.apiKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) uploadFile(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	result, err := a.coordinator.Upload(c.Request.Context(),
		header.Filename,
		header.Header.Get("Content-Type"),
		header.Size,
		c.Query("folder"),
		file)
	if err != nil {
		a.writeError(c, err)
		return
	}

	result.URL = a.signer.Issue(result.StorageKey)
	c.JSON(http.StatusCreated, result)
}

func (a *API) downloadFile(c *gin.Context) {
	rec, err := a.coordinator.Metadata(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.Redirect(http.StatusFound, a.signer.Issue(rec.StorageKey))
}

func (a *API) listFiles(c *gin.Context) {
	filter := entities.ListFilter{
		ContentType:  c.Query("content_type"),
		NameContains: c.Query("name"),
		Folder:       c.Query("folder"),
	}
	if v := c.Query("created_after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid created_after timestamp"})
			return
		}
		filter.CreatedAfter = &t
	}
	if v := c.Query("created_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid created_before timestamp"})
			return
		}
		filter.CreatedBefore = &t
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	page, err := a.coordinator.List(c.Request.Context(), filter, c.Query("cursor"), limit)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (a *API) getMetadata(c *gin.Context) {
	rec, err := a.coordinator.Metadata(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (a *API) deleteFile(c *gin.Context) {
	if err := a.coordinator.Delete(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File deleted", "file_id": c.Param("id")})
}

func (a *API) listOrphans(c *gin.Context) {
	orphans, err := a.coordinator.ListOrphans(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	if orphans == nil {
		orphans = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"orphans": orphans})
}

func (a *API) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, entities.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
	case errors.Is(err, entities.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, entities.ErrInvalidExtension), errors.Is(err, entities.ErrInvalidContentType),
		errors.Is(err, entities.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, entities.ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

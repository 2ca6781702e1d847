package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/face-verify/internal/auth"
	"github.com/example/face-verify/internal/objectstore"
	"github.com/example/face-verify/internal/record"
	"github.com/example/face-verify/internal/verify"
)

// MaxUploadSize bounds a single uploaded image part.
const MaxUploadSize = verify.MaxImageBytes

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, orch *verify.Orchestrator, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/", authMiddleware)

	protected.POST("/verify", func(c *gin.Context) {
		subject, ok := auth.GetSubject(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, errorBody("missing subject", "unauthorized"))
			return
		}

		imageA, ok := readImagePart(c, "image_a", true)
		if !ok {
			return
		}
		images := []verify.Image{*imageA}

		imageB, ok := readImagePart(c, "image_b", false)
		if !ok {
			return
		}
		if imageB != nil {
			images = append(images, *imageB)
		}

		req := verify.Request{
			SubjectID:    subject,
			Images:       images,
			ReferenceKey: c.PostForm("reference_key"),
		}

		rec, err := orch.Submit(c.Request.Context(), req)
		if err != nil {
			writeSubmitError(c, err)
			return
		}

		status := http.StatusOK
		if rec.Status != record.StatusCompleted {
			// Terminal failure states are reported in the same response; the
			// structured body carries the record so no second call is needed.
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, recordBody(rec))
	})

	protected.GET("/verifications/:id", func(c *gin.Context) {
		subject, ok := auth.GetSubject(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, errorBody("missing subject", "unauthorized"))
			return
		}

		recordID := c.Param("id")
		if recordID == "" {
			c.JSON(http.StatusBadRequest, errorBody("id is required", "invalid_input"))
			return
		}

		rec, err := orch.GetResult(c.Request.Context(), subject, recordID)
		if err != nil {
			if errors.Is(err, record.ErrNotFound) {
				c.JSON(http.StatusNotFound, errorBody("record not found", "not_found"))
				return
			}
			c.JSON(http.StatusInternalServerError, errorBody("failed to load record", "internal"))
			return
		}

		c.JSON(http.StatusOK, recordBody(rec))
	})
}

func readImagePart(c *gin.Context, field string, required bool) (*verify.Image, bool) {
	file, err := c.FormFile(field)
	if err != nil {
		if !required {
			return nil, true
		}
		c.JSON(http.StatusBadRequest, errorBody(field+" file is required", "invalid_input"))
		return nil, false
	}

	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody(field+" exceeds size limit", "invalid_input"))
		return nil, false
	}

	contentType := partContentType(file)
	if contentType != "image/jpeg" && contentType != "image/png" {
		c.JSON(http.StatusUnsupportedMediaType, errorBody("unsupported content type "+contentType, "invalid_input"))
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("unable to open "+field, "invalid_input"))
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("failed to read "+field, "internal"))
		return nil, false
	}

	return &verify.Image{Data: data, ContentType: contentType}, true
}

func partContentType(file *multipart.FileHeader) string {
	return file.Header.Get("Content-Type")
}

func writeSubmitError(c *gin.Context, err error) {
	var inputErr *verify.InputError
	switch {
	case errors.As(err, &inputErr):
		c.JSON(http.StatusBadRequest, errorBody(inputErr.Error(), "invalid_input"))
	case errors.Is(err, objectstore.ErrUnavailable):
		c.JSON(http.StatusBadGateway, errorBody("object store unavailable", "storage_unavailable"))
	case errors.Is(err, record.ErrConflict):
		c.JSON(http.StatusInternalServerError, errorBody("conflicting resolution", "conflict"))
	default:
		c.JSON(http.StatusInternalServerError, errorBody("verification failed", "internal"))
	}
}

func errorBody(message, code string) gin.H {
	return gin.H{"error": message, "code": code}
}

func recordBody(rec *record.VerificationRecord) gin.H {
	body := gin.H{
		"record_id":  rec.ID,
		"status":     rec.Status,
		"created_at": rec.CreatedAt,
	}
	if rec.ResolvedAt != nil {
		body["resolved_at"] = rec.ResolvedAt
	}
	if rec.Status == record.StatusCompleted {
		body["score"] = rec.Score
		body["pass"] = rec.Pass
		body["threshold"] = rec.Threshold
	}
	if rec.FailureReason != "" {
		body["failure_reason"] = rec.FailureReason
	}
	return body
}

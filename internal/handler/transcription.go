package handler

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/drumscribe/api/internal/config"
	"github.com/drumscribe/api/internal/middleware"
	"github.com/drumscribe/api/internal/service"
	"github.com/drumscribe/api/pkg/response"
)

type TranscriptionHandler struct {
	service   *service.TranscriptionService
	cfg       *config.Config
	validator *validator.Validate
}

func NewTranscriptionHandler(svc *service.TranscriptionService, cfg *config.Config, v *validator.Validate) *TranscriptionHandler {
	return &TranscriptionHandler{
		service:   svc,
		cfg:       cfg,
		validator: v,
	}
}

// Upload handles POST /api/transcription/upload
func (h *TranscriptionHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > h.cfg.Audio.MaxUploadSize {
		return response.ValidationError(c, fmt.Sprintf("File size exceeds %dMB limit", h.cfg.Audio.MaxUploadSize/(1024*1024)), map[string]interface{}{
			"maxSize":  h.cfg.Audio.MaxUploadSize,
			"fileSize": file.Size,
		})
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Filename)), ".")
	if !h.formatAllowed(ext) {
		return response.ValidationError(c, fmt.Sprintf("Unsupported audio format. Supported: %s", strings.Join(h.cfg.Audio.AllowedFormats, ", ")), map[string]interface{}{
			"format": ext,
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	contentType := file.Header.Get("Content-Type")
	result, err := h.service.Submit(c.Context(), middleware.GetUserID(c), file.Filename, contentType, file.Size, f)
	if err != nil {
		return response.ServiceError(c, "Failed to accept upload")
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/transcription/status/:jobId
func (h *TranscriptionHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if err := h.validator.Var(jobID, "required,uuid4"); err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}

	result, err := h.service.GetStatus(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to fetch job status")
	}

	return response.OK(c, result)
}

// Result handles GET /api/transcription/result/:jobId
func (h *TranscriptionHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if err := h.validator.Var(jobID, "required,uuid4"); err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}

	result, err := h.service.GetResult(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to fetch job result")
	}

	return response.OK(c, result)
}

// Delete handles DELETE /api/transcription/:jobId
func (h *TranscriptionHandler) Delete(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if err := h.validator.Var(jobID, "required,uuid4"); err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}

	if err := h.service.Delete(c.Context(), middleware.GetUserID(c), jobID); err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to delete job")
	}

	return response.NoContent(c)
}

func (h *TranscriptionHandler) formatAllowed(ext string) bool {
	for _, f := range h.cfg.Audio.AllowedFormats {
		if ext == f {
			return true
		}
	}
	return false
}

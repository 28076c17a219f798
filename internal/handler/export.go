package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/drumscribe/api/internal/middleware"
	"github.com/drumscribe/api/internal/model"
	"github.com/drumscribe/api/internal/service"
	"github.com/drumscribe/api/pkg/response"
)

type ExportHandler struct {
	service   *service.ExportService
	validator *validator.Validate
}

func NewExportHandler(svc *service.ExportService, v *validator.Validate) *ExportHandler {
	return &ExportHandler{
		service:   svc,
		validator: v,
	}
}

// Download handles GET /api/export/:kind/:jobId
func (h *ExportHandler) Download(c *fiber.Ctx) error {
	kind := model.ExportKind(c.Params("kind"))
	if !kind.Valid() {
		return response.ValidationError(c, "Unknown export format. Supported: musicxml, midi, pdf", nil)
	}

	jobID := c.Params("jobId")
	if err := h.validator.Var(jobID, "required,uuid4"); err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}

	res, err := h.service.Resolve(c.Context(), middleware.GetUserID(c), jobID, kind)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrJobNotCompleted):
			return response.Conflict(c, "Job has not completed yet")
		case errors.Is(err, service.ErrExportNotFound):
			return response.NotFound(c, "Export not found")
		default:
			return response.ServiceError(c, "Failed to resolve export")
		}
	}

	if res.RedirectURL != "" {
		return c.Redirect(res.RedirectURL, fiber.StatusTemporaryRedirect)
	}

	c.Set(fiber.HeaderContentType, res.ContentType)
	c.Set(fiber.HeaderContentDisposition, res.ContentDisposition())

	if res.Stream != nil {
		return c.SendStream(res.Stream)
	}
	return c.Send(res.Data)
}

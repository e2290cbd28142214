package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/dto"
	"github.com/Merlotec/jdsite/internal/middleware"
	"github.com/Merlotec/jdsite/internal/models"
	"github.com/Merlotec/jdsite/internal/service"
	"github.com/Merlotec/jdsite/internal/utils"
)

// SectionHandler exposes the section lifecycle: activity selection, content
// editing, evidence files, the review verbs and the outstanding dashboard.
type SectionHandler struct {
	sections *service.SectionService
	logger   zerolog.Logger
}

func NewSectionHandler(sections *service.SectionService, logger zerolog.Logger) *SectionHandler {
	return &SectionHandler{
		sections: sections,
		logger:   logger.With().Str("component", "section_handler").Logger(),
	}
}

func (h *SectionHandler) Register(router fiber.Router) {
	router.Post("/select", h.selectActivity)
	router.Get("/outstanding", h.listOutstanding)
	router.Get("/:id", h.get)
	router.Post("/:id/content", h.updateContent)
	router.Post("/:id/submit", h.submit)
	router.Post("/:id/retract", h.retract)
	router.Post("/:id/approve", h.approve)
	router.Post("/:id/reject", h.reject)
	router.Post("/:id/reopen", h.reopen)
	router.Post("/:id/outstanding", h.toggleOutstanding)
	router.Get("/:id/files", h.listFiles)
	router.Get("/:id/files/:name", h.downloadFile)
	router.Delete("/:id", h.remove)
}

func (h *SectionHandler) selectActivity(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.SelectActivityRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "malformed request body")
	}

	sec, err := h.sections.SelectActivity(c.UserContext(), actor, payload.Slot, payload.Activity)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "activity selected", dto.NewSectionResponse(sec))
}

func (h *SectionHandler) get(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	sectionID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	sec, err := h.sections.Get(c.UserContext(), actor, sectionID)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "section retrieved", dto.NewSectionResponse(sec))
}

// updateContent accepts a multipart form: optional "plan" and "reflection"
// text fields, optional repeated "delete" fields naming files to remove, and
// any number of file parts to store as evidence.
func (h *SectionHandler) updateContent(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	sectionID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "expected multipart form")
	}

	var plan, reflection *string
	if vals, ok := form.Value["plan"]; ok && len(vals) > 0 {
		plan = &vals[0]
	}
	if vals, ok := form.Value["reflection"]; ok && len(vals) > 0 {
		reflection = &vals[0]
	}

	sec, err := h.sections.UpdateContent(c.UserContext(), actor, sectionID, plan, reflection)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	for _, name := range form.Value["delete"] {
		if err := h.sections.DeleteEvidence(c.UserContext(), actor, sectionID, name); err != nil {
			return utils.SendAppError(c, err)
		}
	}

	var stored []string
	for _, files := range form.File {
		for _, file := range files {
			src, err := file.Open()
			if err != nil {
				return utils.SendError(c, fiber.StatusBadRequest, "unreadable file part")
			}
			name, err := h.sections.UploadEvidence(c.UserContext(), actor, sectionID, file.Filename, src)
			_ = src.Close()
			if err != nil {
				return utils.SendAppError(c, err)
			}
			stored = append(stored, name)
		}
	}

	return utils.SendSuccess(c, "section updated", fiber.Map{
		"section": dto.NewSectionResponse(sec),
		"stored":  stored,
	})
}

func (h *SectionHandler) submit(c *fiber.Ctx) error {
	return h.verb(c, h.sections.Submit, "section submitted")
}

func (h *SectionHandler) retract(c *fiber.Ctx) error {
	return h.verb(c, h.sections.Retract, "section retracted")
}

func (h *SectionHandler) approve(c *fiber.Ctx) error {
	return h.verb(c, h.sections.Approve, "section approved")
}

func (h *SectionHandler) reopen(c *fiber.Ctx) error {
	return h.verb(c, h.sections.Reopen, "section reopened")
}

func (h *SectionHandler) reject(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	sectionID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.RejectRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "malformed request body")
	}

	sec, err := h.sections.Reject(c.UserContext(), actor, sectionID, payload.Feedback)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "section rejected", dto.NewSectionResponse(sec))
}

func (h *SectionHandler) toggleOutstanding(c *fiber.Ctx) error {
	return h.verb(c, h.sections.ToggleOutstanding, "outstanding flag toggled")
}

func (h *SectionHandler) listOutstanding(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	sections, err := h.sections.ListOutstanding(c.UserContext(), actor)
	if err != nil {
		return utils.SendAppError(c, err)
	}

	out := make([]dto.SectionResponse, 0, len(sections))
	for _, sec := range sections {
		out = append(out, dto.NewSectionResponse(sec))
	}
	return utils.SendSuccess(c, "outstanding sections retrieved", out)
}

func (h *SectionHandler) listFiles(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	sectionID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	files, err := h.sections.Evidence(c.UserContext(), actor, sectionID)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, "files retrieved", files)
}

func (h *SectionHandler) downloadFile(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	sectionID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	path, err := h.sections.EvidencePath(c.UserContext(), actor, sectionID, c.Params("name"))
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return c.SendFile(path)
}

func (h *SectionHandler) remove(c *fiber.Ctx) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	sectionID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.sections.Delete(c.UserContext(), actor, sectionID); err != nil {
		return utils.SendAppError(c, err)
	}

	requestLogger(h.logger, c).Info().Str("section_id", sectionID.String()).Msg("section deleted")
	return utils.SendSuccess(c, "section deleted", nil)
}

type sectionVerb func(ctx context.Context, actor models.User, sectionID uuid.UUID) (models.Section, error)

func (h *SectionHandler) verb(c *fiber.Ctx, fn sectionVerb, message string) error {
	actor, ok := middleware.UserFromCtx(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	sectionID, err := parseUUIDParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	sec, err := fn(c.UserContext(), actor, sectionID)
	if err != nil {
		return utils.SendAppError(c, err)
	}
	return utils.SendSuccess(c, message, dto.NewSectionResponse(sec))
}

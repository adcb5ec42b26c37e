package api

import (
	"context"
	"net/http"

	"ai-companion-demo/backend/internal/models"
	"ai-companion-demo/backend/internal/service"
	apperrors "ai-companion-demo/backend/pkg/errors"
	"ai-companion-demo/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	msgImageCreated     = "Image created successfully"
	msgRealisticCreated = "Realistic character created successfully"
	msgFantasyCreated   = "Fantasy character created successfully"
)

// Generator is what the generation routes need from the service layer
type Generator interface {
	CreateImage(ctx context.Context, description string) (string, error)
	GenerateCharacter(ctx context.Context, kind service.CharacterKind) (name, description string, err error)
}

// GenerationHandler serves the image and character generation routes
type GenerationHandler struct {
	generator Generator
}

func NewGenerationHandler(generator Generator) *GenerationHandler {
	return &GenerationHandler{generator: generator}
}

// CreateImage handles POST /create-image
func (h *GenerationHandler) CreateImage(c *gin.Context) {
	var req models.CreateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "Invalid request body").
			WithDetails(err.Error()))
		return
	}

	logger.FromGin(c).Info("Creating image", "name", req.Name)

	dataURI, err := h.generator.CreateImage(c.Request.Context(), req.Description)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, models.CreateImageResponse{
		Message: msgImageCreated,
		Base64:  dataURI,
	})
}

// GenerateRealisticCharacter handles POST /generate-realistic-character
func (h *GenerationHandler) GenerateRealisticCharacter(c *gin.Context) {
	h.generateCharacter(c, service.Realistic, msgRealisticCreated)
}

// GenerateFantasyCharacter handles POST /generate-fantasy-character
func (h *GenerationHandler) GenerateFantasyCharacter(c *gin.Context) {
	h.generateCharacter(c, service.Fantasy, msgFantasyCreated)
}

func (h *GenerationHandler) generateCharacter(c *gin.Context, kind service.CharacterKind, message string) {
	name, description, err := h.generator.GenerateCharacter(c.Request.Context(), kind)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, models.CharacterResponse{
		Message:     message,
		Name:        name,
		Description: description,
	})
}

// RegisterRoutes mounts the generation routes on group
func (h *GenerationHandler) RegisterRoutes(group gin.IRoutes) {
	group.POST("/create-image", h.CreateImage)
	group.POST("/generate-realistic-character", h.GenerateRealisticCharacter)
	group.POST("/generate-fantasy-character", h.GenerateFantasyCharacter)
}

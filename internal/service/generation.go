package service

import (
	"context"
	"strings"

	apperrors "ai-companion-demo/backend/pkg/errors"
	"ai-companion-demo/backend/pkg/logger"
)

// Completer runs a single-turn prompt
type Completer interface {
	Complete(ctx context.Context, op, prompt string) (string, error)
}

// ImageGenerator creates an image and downloads it
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	FetchDataURI(ctx context.Context, url string) (string, error)
}

// GenerationService backs the stateless generation routes
type GenerationService struct {
	llm    Completer
	images ImageGenerator
	log    *logger.Logger
}

// NewGenerationService creates a new GenerationService
func NewGenerationService(llm Completer, images ImageGenerator, log *logger.Logger) *GenerationService {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &GenerationService{llm: llm, images: images, log: log}
}

// CreateImage condenses description into a short image prompt, renders one
// image and returns it as a data URI
func (s *GenerationService) CreateImage(ctx context.Context, description string) (string, error) {
	summary, err := s.llm.Complete(ctx, "image prompt", imageSummaryPrompt(description))
	if err != nil {
		return "", err
	}
	prompt := imageStylePrefix + summary
	logger.FromContext(ctx).Info("Generating image", "prompt", prompt)

	url, err := s.images.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return s.images.FetchDataURI(ctx, url)
}

// GenerateCharacter asks the model for a character of the given kind and
// parses the "Name: X | Description: Y" reply
func (s *GenerationService) GenerateCharacter(ctx context.Context, kind CharacterKind) (name, description string, err error) {
	prompt, ok := characterPrompt(kind)
	if !ok {
		return "", "", apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "unknown character kind "+string(kind))
	}

	reply, err := s.llm.Complete(ctx, "character generation", prompt)
	if err != nil {
		return "", "", err
	}

	name, description, err = ParseCharacter(reply)
	if err != nil {
		s.log.Warn("Unparseable character reply", "kind", string(kind), "reply", reply)
		return "", "", err
	}
	return name, description, nil
}

// ParseCharacter splits reply on the first "|" and strips every "Name:" and
// "Description:" label from both halves
func ParseCharacter(reply string) (name, description string, err error) {
	left, right, found := strings.Cut(reply, "|")
	if !found {
		return "", "", apperrors.NewFormatError("character reply has no name/description separator")
	}

	name = stripLabels(left)
	description = stripLabels(right)
	if name == "" || description == "" {
		return "", "", apperrors.NewFormatError("character reply has an empty name or description")
	}
	return name, description, nil
}

var labelStripper = strings.NewReplacer("Name:", "", "Description:", "")

// stripLabels removes labels until none remain, since removing one can join
// the text around it into another
func stripLabels(s string) string {
	for {
		next := labelStripper.Replace(s)
		if next == s {
			return strings.TrimSpace(next)
		}
		s = next
	}
}

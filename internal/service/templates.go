package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/models"
	"github.com/ifuryst/autopost/internal/repository"
	"github.com/ifuryst/autopost/pkg/util"
)

type CreateTemplateInput struct {
	Name         string   `json:"name" validate:"required,max=100"`
	Content      string   `json:"content" validate:"required,max=3000"`
	Description  string   `json:"description" validate:"max=500"`
	Category     string   `json:"category" validate:"omitempty,oneof=event announcement promotion general"`
	Placeholders []string `json:"placeholders"`
	IsActive     *bool    `json:"is_active"`
}

type FilledTemplate struct {
	Content  string           `json:"content"`
	Template *models.Template `json:"original_template"`
}

type TemplateService struct {
	templates repository.TemplateStore
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewTemplateService(templates repository.TemplateStore, logger *zap.Logger) *TemplateService {
	return &TemplateService{
		templates: templates,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Create stores a new template. Placeholders default to the names found in
// the content.
func (s *TemplateService) Create(ctx context.Context, input CreateTemplateInput) (*models.Template, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Content = strings.TrimSpace(input.Content)
	input.Description = strings.TrimSpace(input.Description)
	input.Category = strings.TrimSpace(input.Category)

	if err := s.validate.Struct(input); err != nil {
		return nil, validationError(err)
	}

	tpl := &models.Template{
		Name:         input.Name,
		Content:      input.Content,
		Description:  input.Description,
		Category:     models.TemplateCategory(input.Category),
		Placeholders: util.CleanList(input.Placeholders),
		IsActive:     input.IsActive == nil || *input.IsActive,
	}
	if tpl.Category == "" {
		tpl.Category = models.CategoryGeneral
	}
	if len(tpl.Placeholders) == 0 {
		tpl.Placeholders = util.ExtractPlaceholders(tpl.Content)
	}

	if err := s.templates.Create(ctx, tpl); err != nil {
		return nil, err
	}

	s.logger.Info("Template created", zap.String("template_id", tpl.ID), zap.String("name", tpl.Name))
	return tpl, nil
}

// List returns templates most used first. isActive is "", "true" or "false".
func (s *TemplateService) List(ctx context.Context, category, isActive string) ([]*models.Template, error) {
	filter := repository.TemplateFilter{}
	if category != "" {
		if err := s.validate.Var(category, "oneof=event announcement promotion general"); err != nil {
			return nil, fieldError("category", err)
		}
		filter.Category = models.TemplateCategory(category)
	}
	if isActive != "" {
		active := isActive == "true"
		filter.IsActive = &active
	}
	return s.templates.List(ctx, filter)
}

func (s *TemplateService) Get(ctx context.Context, id string) (*models.Template, error) {
	return s.templates.Get(ctx, id)
}

func (s *TemplateService) Delete(ctx context.Context, id string) error {
	if err := s.templates.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Template deleted", zap.String("template_id", id))
	return nil
}

// Fill substitutes data into the template and counts the use.
func (s *TemplateService) Fill(ctx context.Context, id string, data map[string]string) (*FilledTemplate, error) {
	tpl, err := s.templates.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	content := util.FillPlaceholders(tpl.Content, data)

	if err := s.templates.IncrementUsage(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to record template usage: %w", err)
	}
	tpl.UsageCount++

	return &FilledTemplate{Content: content, Template: tpl}, nil
}

// Seed inserts the built-in templates. With replace, existing templates are
// removed first; otherwise templates whose name is taken are skipped.
func (s *TemplateService) Seed(ctx context.Context, replace bool) ([]*models.Template, error) {
	if replace {
		if err := s.templates.DeleteAll(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear templates: %w", err)
		}
		s.logger.Info("Cleared existing templates")
	}

	var created []*models.Template
	for _, seed := range seedTemplates() {
		tpl, err := s.Create(ctx, seed)
		if err != nil {
			if isDuplicate(err) {
				s.logger.Info("Template already exists, skipping", zap.String("name", seed.Name))
				continue
			}
			return created, err
		}
		created = append(created, tpl)
	}

	s.logger.Info("Seeded templates", zap.Int("count", len(created)))
	return created, nil
}

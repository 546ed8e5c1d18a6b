package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ifuryst/autopost/internal/models"
)

type GormTemplateStore struct {
	db *gorm.DB
}

func NewGormTemplateStore(db *gorm.DB) *GormTemplateStore {
	return &GormTemplateStore{db: db}
}

func (r *GormTemplateStore) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&models.Template{})
}

func (r *GormTemplateStore) Create(ctx context.Context, tpl *models.Template) error {
	var taken int64
	if err := r.db.WithContext(ctx).Model(&models.Template{}).Where("name = ?", tpl.Name).Count(&taken).Error; err != nil {
		return fmt.Errorf("failed to check template name: %w", err)
	}
	if taken > 0 {
		return fmt.Errorf("template %q: %w", tpl.Name, ErrDuplicate)
	}

	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if tpl.Placeholders == nil {
		tpl.Placeholders = models.StringList{}
	}
	if err := r.db.WithContext(ctx).Create(tpl).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("template %q: %w", tpl.Name, ErrDuplicate)
		}
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (r *GormTemplateStore) Get(ctx context.Context, id string) (*models.Template, error) {
	var tpl models.Template
	if err := r.db.WithContext(ctx).First(&tpl, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}
	return &tpl, nil
}

func (r *GormTemplateStore) List(ctx context.Context, filter TemplateFilter) ([]*models.Template, error) {
	query := r.db.WithContext(ctx).Model(&models.Template{})
	if filter.Category != "" {
		query = query.Where("category = ?", string(filter.Category))
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}

	var templates []*models.Template
	if err := query.Order("usage_count DESC").Order("created_at DESC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

func (r *GormTemplateStore) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Template{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *GormTemplateStore) IncrementUsage(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.Template{}).
		Where("id = ?", id).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
	if result.Error != nil {
		return fmt.Errorf("failed to increment template usage %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *GormTemplateStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Template{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count templates: %w", err)
	}
	return count, nil
}

func (r *GormTemplateStore) DeleteAll(ctx context.Context) error {
	err := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Template{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete templates: %w", err)
	}
	return nil
}

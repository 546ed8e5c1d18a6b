package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ifuryst/autopost/internal/models"
)

type GormPostStore struct {
	db *gorm.DB
}

func NewGormPostStore(db *gorm.DB) *GormPostStore {
	return &GormPostStore{db: db}
}

// Init creates the posts table and the (status, scheduled_for) index.
func (r *GormPostStore) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&models.Post{})
}

func (r *GormPostStore) Create(ctx context.Context, post *models.Post) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.ScheduledFor != nil {
		at := post.ScheduledFor.UTC()
		post.ScheduledFor = &at
	}
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func (r *GormPostStore) Get(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).First(&post, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}
	return &post, nil
}

func (r *GormPostStore) List(ctx context.Context, filter PostFilter) ([]*models.Post, error) {
	query := r.db.WithContext(ctx).Model(&models.Post{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.BySchedule {
		query = query.Order("scheduled_for ASC")
	} else {
		query = query.Order("created_at DESC")
	}

	var posts []*models.Post
	if err := query.Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

func (r *GormPostStore) UpdateContent(ctx context.Context, id string, content PostContent) (*models.Post, error) {
	if content.empty() {
		return r.Get(ctx, id)
	}

	updates := map[string]interface{}(content.Fields())
	updates[models.ColumnUpdatedAt] = time.Now().UTC()

	result := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status <> ?", id, string(models.StatusPublishing)).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update post %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, r.missOrConflict(ctx, id)
	}
	return r.Get(ctx, id)
}

func (r *GormPostStore) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND status <> ?", id, string(models.StatusPublishing)).
		Delete(&models.Post{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete post %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

func (r *GormPostStore) FindDue(ctx context.Context, now time.Time) ([]*models.Post, error) {
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?", string(models.StatusScheduled), now.UTC()).
		Order("scheduled_for ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find due posts: %w", err)
	}
	return posts, nil
}

func (r *GormPostStore) FindStale(ctx context.Context, claimedBefore time.Time) ([]*models.Post, error) {
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Where("status = ? AND (claimed_at IS NULL OR claimed_at < ?)", string(models.StatusPublishing), claimedBefore.UTC()).
		Order("claimed_at ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find stale posts: %w", err)
	}
	return posts, nil
}

// Transition is a single conditional UPDATE. Concurrent callers racing for
// the same post see exactly one RowsAffected == 1.
func (r *GormPostStore) Transition(ctx context.Context, id string, from []models.PostStatus, to models.PostStatus, fields models.Fields) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	updates := make(map[string]interface{}, len(fields)+2)
	for column, value := range fields {
		updates[column] = value
	}
	updates[models.ColumnStatus] = string(to)
	updates[models.ColumnUpdatedAt] = time.Now().UTC()

	result := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition post %s to %s: %w", id, to, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *GormPostStore) CountByStatus(ctx context.Context) (map[models.PostStatus]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Post{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	counts := make(map[models.PostStatus]int64, len(rows))
	for _, row := range rows {
		counts[models.PostStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func (r *GormPostStore) missOrConflict(ctx context.Context, id string) error {
	post, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if post.Status == models.StatusPublishing {
		return fmt.Errorf("post %s: %w", id, ErrConflict)
	}
	// The row changed between the update and the lookup.
	return fmt.Errorf("post %s changed concurrently: %w", id, ErrConflict)
}

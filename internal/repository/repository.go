package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ifuryst/autopost/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("post is being published")
	ErrDuplicate = errors.New("duplicate record")
)

// PostFilter narrows List. An empty Status matches every post.
type PostFilter struct {
	Status models.PostStatus
	// BySchedule orders by scheduled_for ascending instead of newest first.
	BySchedule bool
}

// PostContent carries the user-editable fields. Nil pointers are left as is.
type PostContent struct {
	EventName *string
	Caption   *string
	Image     *string
}

func (c PostContent) empty() bool {
	return c.EventName == nil && c.Caption == nil && c.Image == nil
}

// Fields lists the set content columns so they can ride along with a
// status Transition.
func (c PostContent) Fields() models.Fields {
	f := models.Fields{}
	if c.EventName != nil {
		f[models.ColumnEventName] = *c.EventName
	}
	if c.Caption != nil {
		f[models.ColumnCaption] = *c.Caption
	}
	if c.Image != nil {
		f[models.ColumnImage] = *c.Image
	}
	return f
}

type PostStore interface {
	Create(ctx context.Context, post *models.Post) error
	Get(ctx context.Context, id string) (*models.Post, error)
	List(ctx context.Context, filter PostFilter) ([]*models.Post, error)
	// UpdateContent returns ErrConflict while the post is publishing.
	UpdateContent(ctx context.Context, id string, content PostContent) (*models.Post, error)
	// Delete returns ErrConflict while the post is publishing.
	Delete(ctx context.Context, id string) error

	// FindDue returns scheduled posts with scheduled_for <= now, oldest first.
	FindDue(ctx context.Context, now time.Time) ([]*models.Post, error)
	// FindStale returns publishing posts claimed before the given time.
	FindStale(ctx context.Context, claimedBefore time.Time) ([]*models.Post, error)
	// Transition moves a post to status `to` only if its current status is in
	// from, writing fields in the same update. It reports whether the post
	// changed.
	Transition(ctx context.Context, id string, from []models.PostStatus, to models.PostStatus, fields models.Fields) (bool, error)
	CountByStatus(ctx context.Context) (map[models.PostStatus]int64, error)
}

type TemplateFilter struct {
	Category models.TemplateCategory
	IsActive *bool
}

type TemplateStore interface {
	// Create returns ErrDuplicate when the name is taken.
	Create(ctx context.Context, tpl *models.Template) error
	Get(ctx context.Context, id string) (*models.Template, error)
	// List orders by usage_count descending, then newest first.
	List(ctx context.Context, filter TemplateFilter) ([]*models.Template, error)
	Delete(ctx context.Context, id string) error
	IncrementUsage(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
	DeleteAll(ctx context.Context) error
}

func statusStrings(statuses []models.PostStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/models"
	"github.com/ifuryst/autopost/internal/repository"
)

const defaultCreatedBy = "admin"

type CreatePostInput struct {
	EventName    string     `json:"event_name" form:"event_name" validate:"required,max=200"`
	Caption      string     `json:"caption" form:"caption" validate:"required,max=3000"`
	Image        string     `json:"image" form:"image" validate:"omitempty,max=1024"`
	ScheduledFor *time.Time `json:"scheduled_for" form:"scheduled_for"`
	CreatedBy    string     `json:"created_by" form:"created_by" validate:"omitempty,max=100"`
}

// UpdatePostInput changes only the fields that are set. Status accepts draft,
// which takes the post off the schedule.
type UpdatePostInput struct {
	EventName    *string            `json:"event_name"`
	Caption      *string            `json:"caption"`
	Image        *string            `json:"image"`
	ScheduledFor *time.Time         `json:"scheduled_for"`
	Status       *models.PostStatus `json:"status"`
}

type PostStats struct {
	Total    int64                       `json:"total"`
	ByStatus map[models.PostStatus]int64 `json:"by_status"`
}

// PostService owns post validation and every status change that does not
// come from the scheduler.
type PostService struct {
	posts    repository.PostStore
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewPostService(posts repository.PostStore, logger *zap.Logger) *PostService {
	return &PostService{
		posts:    posts,
		validate: validator.New(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *PostService) Create(ctx context.Context, input CreatePostInput) (*models.Post, error) {
	input.EventName = strings.TrimSpace(input.EventName)
	input.Caption = strings.TrimSpace(input.Caption)
	input.Image = strings.TrimSpace(input.Image)
	input.CreatedBy = strings.TrimSpace(input.CreatedBy)

	if err := s.validate.Struct(input); err != nil {
		return nil, validationError(err)
	}

	post := &models.Post{
		EventName: input.EventName,
		Caption:   input.Caption,
		Image:     input.Image,
		Status:    models.StatusDraft,
		CreatedBy: input.CreatedBy,
	}
	if post.CreatedBy == "" {
		post.CreatedBy = defaultCreatedBy
	}
	if input.ScheduledFor != nil {
		if !input.ScheduledFor.After(s.now()) {
			return nil, ErrScheduleInPast
		}
		at := input.ScheduledFor.UTC()
		post.ScheduledFor = &at
		post.Status = models.StatusScheduled
	}

	if err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	s.logger.Info("Post created",
		zap.String("post_id", post.ID),
		zap.String("status", string(post.Status)))
	return post, nil
}

func (s *PostService) Get(ctx context.Context, id string) (*models.Post, error) {
	return s.posts.Get(ctx, id)
}

// List returns posts newest first, optionally narrowed to one status.
func (s *PostService) List(ctx context.Context, status string) ([]*models.Post, error) {
	filter := repository.PostFilter{}
	if status != "" {
		st := models.PostStatus(status)
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
		}
		filter.Status = st
	}
	return s.posts.List(ctx, filter)
}

// ListScheduled returns scheduled posts in the order they will go out.
func (s *PostService) ListScheduled(ctx context.Context) ([]*models.Post, error) {
	return s.posts.List(ctx, repository.PostFilter{Status: models.StatusScheduled, BySchedule: true})
}

func (s *PostService) Update(ctx context.Context, id string, input UpdatePostInput) (*models.Post, error) {
	content := repository.PostContent{}
	if input.EventName != nil {
		v := strings.TrimSpace(*input.EventName)
		if err := s.validate.Var(v, "required,max=200"); err != nil {
			return nil, fieldError("event_name", err)
		}
		content.EventName = &v
	}
	if input.Caption != nil {
		v := strings.TrimSpace(*input.Caption)
		if err := s.validate.Var(v, "required,max=3000"); err != nil {
			return nil, fieldError("caption", err)
		}
		content.Caption = &v
	}
	if input.Image != nil {
		v := strings.TrimSpace(*input.Image)
		content.Image = &v
	}

	unschedule := false
	if input.Status != nil {
		switch *input.Status {
		case models.StatusDraft:
			unschedule = true
		case models.StatusScheduled:
			if input.ScheduledFor == nil {
				return nil, fmt.Errorf("%w: scheduled_for is required to schedule a post", ErrValidation)
			}
		default:
			return nil, fmt.Errorf("%w: status can only be changed to draft or scheduled", ErrValidation)
		}
	}
	if unschedule && input.ScheduledFor != nil {
		return nil, fmt.Errorf("%w: cannot set scheduled_for and unschedule at once", ErrValidation)
	}
	if input.ScheduledFor != nil && !input.ScheduledFor.After(s.now()) {
		return nil, ErrScheduleInPast
	}

	// A status change carries the content edits in the same Transition, so a
	// rejected change leaves the post untouched.
	switch {
	case input.ScheduledFor != nil:
		return s.schedule(ctx, id, *input.ScheduledFor, content)
	case unschedule:
		return s.unschedule(ctx, id, content)
	}

	post, err := s.posts.UpdateContent(ctx, id, content)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrInFlight
		}
		return nil, err
	}
	return post, nil
}

// Schedule sets a future publish time on a draft, scheduled or failed post.
func (s *PostService) Schedule(ctx context.Context, id string, at time.Time) (*models.Post, error) {
	return s.schedule(ctx, id, at, repository.PostContent{})
}

// Unschedule returns a scheduled or failed post to draft.
func (s *PostService) Unschedule(ctx context.Context, id string) (*models.Post, error) {
	return s.unschedule(ctx, id, repository.PostContent{})
}

func (s *PostService) schedule(ctx context.Context, id string, at time.Time, content repository.PostContent) (*models.Post, error) {
	if !at.After(s.now()) {
		return nil, ErrScheduleInPast
	}

	fields := models.ScheduleFields(at)
	for column, value := range content.Fields() {
		fields[column] = value
	}

	from := []models.PostStatus{models.StatusDraft, models.StatusScheduled, models.StatusFailed}
	ok, err := s.posts.Transition(ctx, id, from, models.StatusScheduled, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule post: %w", err)
	}
	if !ok {
		return nil, s.rejectedTransition(ctx, id)
	}

	s.logger.Info("Post scheduled", zap.String("post_id", id), zap.Time("scheduled_for", at.UTC()))
	return s.posts.Get(ctx, id)
}

func (s *PostService) unschedule(ctx context.Context, id string, content repository.PostContent) (*models.Post, error) {
	fields := models.DraftFields()
	for column, value := range content.Fields() {
		fields[column] = value
	}

	from := []models.PostStatus{models.StatusScheduled, models.StatusFailed}
	ok, err := s.posts.Transition(ctx, id, from, models.StatusDraft, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to unschedule post: %w", err)
	}
	if !ok {
		post, err := s.posts.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if post.Status != models.StatusDraft {
			return nil, s.rejectedTransition(ctx, id)
		}
		// Already a draft: only the content edits remain.
		post, err = s.posts.UpdateContent(ctx, id, content)
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrInFlight
		}
		return post, err
	}

	s.logger.Info("Post unscheduled", zap.String("post_id", id))
	return s.posts.Get(ctx, id)
}

func (s *PostService) Delete(ctx context.Context, id string) error {
	if err := s.posts.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrInFlight
		}
		return err
	}
	s.logger.Info("Post deleted", zap.String("post_id", id))
	return nil
}

func (s *PostService) Stats(ctx context.Context) (*PostStats, error) {
	counts, err := s.posts.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	stats := &PostStats{ByStatus: make(map[models.PostStatus]int64)}
	for _, status := range []models.PostStatus{
		models.StatusDraft, models.StatusScheduled, models.StatusPublishing,
		models.StatusPublished, models.StatusFailed,
	} {
		stats.ByStatus[status] = counts[status]
		stats.Total += counts[status]
	}
	return stats, nil
}

// rejectedTransition explains why a post could not change status.
func (s *PostService) rejectedTransition(ctx context.Context, id string) error {
	post, err := s.posts.Get(ctx, id)
	if err != nil {
		return err
	}
	switch post.Status {
	case models.StatusPublished:
		return ErrAlreadyPublished
	case models.StatusPublishing:
		return ErrInFlight
	}
	return fmt.Errorf("%w: post is %s", ErrValidation, post.Status)
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		fe := errs[0]
		return fmt.Errorf("%w: %s", ErrValidation, describeField(toSnake(fe.Field()), fe))
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

func fieldError(name string, err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, describeField(name, errs[0]))
	}
	return fmt.Errorf("%w: %s: %v", ErrValidation, name, err)
}

func describeField(name string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", name, fe.Param())
	}
	return fmt.Sprintf("%s is invalid (%s)", name, fe.Tag())
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

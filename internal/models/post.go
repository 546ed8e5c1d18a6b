package models

import (
	"time"
)

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	StatusDraft      PostStatus = "draft"
	StatusScheduled  PostStatus = "scheduled"
	StatusPublishing PostStatus = "publishing"
	StatusPublished  PostStatus = "published"
	StatusFailed     PostStatus = "failed"
)

func (s PostStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusPublishing, StatusPublished, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the scheduler leaves a post in this status alone.
func (s PostStatus) Terminal() bool {
	return s == StatusPublished || s == StatusFailed
}

const (
	MaxEventNameLength = 200
	MaxCaptionLength   = 3000
)

// Column names shared by the gorm and mongo stores.
const (
	ColumnEventName    = "event_name"
	ColumnCaption      = "caption"
	ColumnImage        = "image"
	ColumnStatus       = "status"
	ColumnScheduledFor = "scheduled_for"
	ColumnClaimedAt    = "claimed_at"
	ColumnPublishedAt  = "published_at"
	ColumnPublishedURL = "published_url"
	ColumnErrorMessage = "error_message"
	ColumnUpdatedAt    = "updated_at"
)

type Post struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id" bson:"_id"`
	EventName    string     `gorm:"column:event_name;size:200;not null" json:"event_name" bson:"event_name"`
	Caption      string     `gorm:"column:caption;type:text;not null" json:"caption" bson:"caption"`
	Image        string     `gorm:"column:image;size:1024" json:"image,omitempty" bson:"image,omitempty"`
	ScheduledFor *time.Time `gorm:"column:scheduled_for;index:idx_posts_status_scheduled_for,priority:2" json:"scheduled_for" bson:"scheduled_for"`
	Status       PostStatus `gorm:"column:status;size:20;not null;default:'draft';index:idx_posts_status_scheduled_for,priority:1" json:"status" bson:"status"`
	ClaimedAt    *time.Time `gorm:"column:claimed_at" json:"claimed_at,omitempty" bson:"claimed_at"`
	PublishedAt  *time.Time `gorm:"column:published_at" json:"published_at" bson:"published_at"`
	PublishedURL *string    `gorm:"column:published_url;size:2048" json:"published_url" bson:"published_url"`
	ErrorMessage *string    `gorm:"column:error_message;type:text" json:"error_message" bson:"error_message"`
	CreatedBy    string     `gorm:"column:created_by;size:100;default:'admin'" json:"created_by" bson:"created_by"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at" bson:"updated_at"`
}

func (Post) TableName() string { return "posts" }

// IsDue reports whether the post is eligible for publishing at now.
func (p *Post) IsDue(now time.Time) bool {
	return p.Status == StatusScheduled && p.ScheduledFor != nil && !p.ScheduledFor.After(now)
}

// Fields holds the columns a status transition writes next to the status
// itself. A nil value clears the column.
type Fields map[string]any

// ClaimFields marks the moment a post entered publishing.
func ClaimFields(now time.Time) Fields {
	return Fields{ColumnClaimedAt: now.UTC()}
}

func PublishedFields(now time.Time, url string) Fields {
	f := Fields{
		ColumnPublishedAt:  now.UTC(),
		ColumnPublishedURL: nil,
		ColumnErrorMessage: nil,
	}
	if url != "" {
		f[ColumnPublishedURL] = url
	}
	return f
}

func FailedFields(reason string) Fields {
	return Fields{ColumnErrorMessage: reason}
}

// ScheduleFields sets a new publish time and clears the previous error.
func ScheduleFields(at time.Time) Fields {
	return Fields{
		ColumnScheduledFor: at.UTC(),
		ColumnErrorMessage: nil,
	}
}

// DraftFields removes the publish time.
func DraftFields() Fields {
	return Fields{ColumnScheduledFor: nil}
}

// ReleaseFields drops a stale claim so the post can be picked up again.
func ReleaseFields() Fields {
	return Fields{ColumnClaimedAt: nil}
}

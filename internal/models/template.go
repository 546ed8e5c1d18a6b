package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type TemplateCategory string

const (
	CategoryEvent        TemplateCategory = "event"
	CategoryAnnouncement TemplateCategory = "announcement"
	CategoryPromotion    TemplateCategory = "promotion"
	CategoryGeneral      TemplateCategory = "general"
)

// StringList is stored as a JSON array so it works on both postgres and sqlite.
type StringList []string

func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = StringList{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}

	if len(raw) == 0 {
		*s = StringList{}
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(s))
}

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type Template struct {
	ID           string           `gorm:"primaryKey;size:36" json:"id" bson:"_id"`
	Name         string           `gorm:"uniqueIndex;size:100;not null" json:"name" bson:"name"`
	Content      string           `gorm:"type:text;not null" json:"content" bson:"content"`
	Description  string           `gorm:"size:500" json:"description" bson:"description"`
	Placeholders StringList       `gorm:"type:text" json:"placeholders" bson:"placeholders"`
	Category     TemplateCategory `gorm:"size:20;not null;default:'general';index" json:"category" bson:"category"`
	IsActive     bool             `gorm:"not null" json:"is_active" bson:"is_active"`
	UsageCount   int64            `gorm:"not null;default:0" json:"usage_count" bson:"usage_count"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at" bson:"updated_at"`
}

func (Template) TableName() string { return "templates" }

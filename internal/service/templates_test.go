package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/models"
	"github.com/ifuryst/autopost/internal/repository"
)

func newTestTemplateService(t *testing.T) *TemplateService {
	t.Helper()
	return NewTemplateService(newTestStores(t).Templates, zap.NewNop())
}

func TestTemplateService_Create(t *testing.T) {
	svc := newTestTemplateService(t)
	ctx := context.Background()

	tpl, err := svc.Create(ctx, CreateTemplateInput{
		Name:    "Welcome",
		Content: "Hello {{name}}, see you at {{place}}",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryGeneral, tpl.Category)
	assert.True(t, tpl.IsActive)
	assert.Equal(t, models.StringList{"name", "place"}, tpl.Placeholders)

	_, err = svc.Create(ctx, CreateTemplateInput{Name: "Welcome", Content: "again"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	_, err = svc.Create(ctx, CreateTemplateInput{Name: "Bad", Content: "x", Category: "spam"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, CreateTemplateInput{Content: "x"})
	assert.ErrorIs(t, err, ErrValidation)

	inactive := false
	tpl, err = svc.Create(ctx, CreateTemplateInput{Name: "Off", Content: "x", IsActive: &inactive})
	require.NoError(t, err)
	assert.False(t, tpl.IsActive)
}

func TestTemplateService_Fill(t *testing.T) {
	svc := newTestTemplateService(t)
	ctx := context.Background()

	tpl, err := svc.Create(ctx, CreateTemplateInput{
		Name:    "Event",
		Content: "Join {{eventName}} on {{date}} at {{location}}",
	})
	require.NoError(t, err)

	filled, err := svc.Fill(ctx, tpl.ID, map[string]string{
		"EVENTNAME": "GopherCon",
		"date":      "",
	})
	require.NoError(t, err)
	assert.Equal(t, "Join GopherCon on  at {{location}}", filled.Content)
	assert.Equal(t, int64(1), filled.Template.UsageCount)

	_, err = svc.Fill(ctx, tpl.ID, nil)
	require.NoError(t, err)

	stored, err := svc.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.UsageCount)

	_, err = svc.Fill(ctx, "missing", nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTemplateService_ListAndDelete(t *testing.T) {
	svc := newTestTemplateService(t)
	ctx := context.Background()

	promo, err := svc.Create(ctx, CreateTemplateInput{Name: "Promo", Content: "x", Category: "promotion"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateTemplateInput{Name: "General", Content: "y"})
	require.NoError(t, err)

	_, err = svc.Fill(ctx, promo.ID, nil)
	require.NoError(t, err)

	all, err := svc.List(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, promo.ID, all[0].ID)

	promos, err := svc.List(ctx, "promotion", "true")
	require.NoError(t, err)
	assert.Len(t, promos, 1)

	inactive, err := svc.List(ctx, "", "false")
	require.NoError(t, err)
	assert.Empty(t, inactive)

	_, err = svc.List(ctx, "spam", "")
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, svc.Delete(ctx, promo.ID))
	assert.ErrorIs(t, svc.Delete(ctx, promo.ID), repository.ErrNotFound)
}

func TestTemplateService_Seed(t *testing.T) {
	svc := newTestTemplateService(t)
	ctx := context.Background()

	created, err := svc.Seed(ctx, false)
	require.NoError(t, err)
	assert.Len(t, created, 5)

	// A second run without replace skips every existing name.
	created, err = svc.Seed(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, created)

	_, err = svc.Create(ctx, CreateTemplateInput{Name: "Custom", Content: "z"})
	require.NoError(t, err)

	created, err = svc.Seed(ctx, true)
	require.NoError(t, err)
	assert.Len(t, created, 5)

	all, err := svc.List(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	events, err := svc.List(ctx, "event", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Event Announcement", events[0].Name)
	assert.Contains(t, events[0].Placeholders, "registrationLink")
}

package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/autopost/internal/models"
)

func newTestTemplateStore(t *testing.T) *GormTemplateStore {
	t.Helper()
	store := NewGormTemplateStore(newTestDB(t))
	require.NoError(t, store.Init(context.Background()))
	return store
}

func TestGormTemplateStore_CreateDuplicate(t *testing.T) {
	store := newTestTemplateStore(t)
	ctx := context.Background()

	first := &models.Template{Name: "Launch", Content: "{{product}} is live", Category: models.CategoryAnnouncement, IsActive: true}
	require.NoError(t, store.Create(ctx, first))
	assert.NotEmpty(t, first.ID)

	err := store.Create(ctx, &models.Template{Name: "Launch", Content: "again", Category: models.CategoryGeneral})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestGormTemplateStore_ListFiltersAndOrder(t *testing.T) {
	store := newTestTemplateStore(t)
	ctx := context.Background()

	popular := &models.Template{Name: "Popular", Content: "a", Category: models.CategoryEvent, IsActive: true, Placeholders: models.StringList{"event"}}
	quiet := &models.Template{Name: "Quiet", Content: "b", Category: models.CategoryEvent, IsActive: true}
	retired := &models.Template{Name: "Retired", Content: "c", Category: models.CategoryPromotion, IsActive: false}
	for _, tpl := range []*models.Template{quiet, popular, retired} {
		require.NoError(t, store.Create(ctx, tpl))
	}
	require.NoError(t, store.IncrementUsage(ctx, popular.ID))
	require.NoError(t, store.IncrementUsage(ctx, popular.ID))

	events, err := store.List(ctx, TemplateFilter{Category: models.CategoryEvent})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, popular.ID, events[0].ID)
	assert.Equal(t, int64(2), events[0].UsageCount)
	assert.Equal(t, models.StringList{"event"}, events[0].Placeholders)

	inactive := false
	retiredOnly, err := store.List(ctx, TemplateFilter{IsActive: &inactive})
	require.NoError(t, err)
	require.Len(t, retiredOnly, 1)
	assert.Equal(t, retired.ID, retiredOnly[0].ID)
}

func TestGormTemplateStore_DeleteAndCount(t *testing.T) {
	store := newTestTemplateStore(t)
	ctx := context.Background()

	tpl := &models.Template{Name: "One", Content: "x", Category: models.CategoryGeneral, IsActive: true}
	require.NoError(t, store.Create(ctx, tpl))
	require.NoError(t, store.Create(ctx, &models.Template{Name: "Two", Content: "y", Category: models.CategoryGeneral, IsActive: true}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, store.Delete(ctx, tpl.ID))
	assert.ErrorIs(t, store.Delete(ctx, tpl.ID), ErrNotFound)
	assert.ErrorIs(t, store.IncrementUsage(ctx, tpl.ID), ErrNotFound)

	require.NoError(t, store.DeleteAll(ctx))
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

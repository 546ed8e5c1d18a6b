package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ifuryst/autopost/internal/models"
)

const templateCollectionName = "templates"

type MongoTemplateStore struct {
	collection *mongo.Collection
}

func NewMongoTemplateStore(db *mongo.Database) *MongoTemplateStore {
	return &MongoTemplateStore{
		collection: db.Collection(templateCollectionName),
	}
}

func (r *MongoTemplateStore) Init(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_templates_name"),
	})
	if err != nil {
		return fmt.Errorf("failed to create templates index: %w", err)
	}
	return nil
}

func (r *MongoTemplateStore) Create(ctx context.Context, tpl *models.Template) error {
	now := time.Now().UTC()
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if tpl.Placeholders == nil {
		tpl.Placeholders = models.StringList{}
	}
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, tpl); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("template %q: %w", tpl.Name, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert template: %w", err)
	}
	return nil
}

func (r *MongoTemplateStore) Get(ctx context.Context, id string) (*models.Template, error) {
	var tpl models.Template
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&tpl); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find template %s: %w", id, err)
	}
	return &tpl, nil
}

func (r *MongoTemplateStore) List(ctx context.Context, filter TemplateFilter) ([]*models.Template, error) {
	query := bson.M{}
	if filter.Category != "" {
		query["category"] = string(filter.Category)
	}
	if filter.IsActive != nil {
		query["is_active"] = *filter.IsActive
	}

	findOptions := options.Find().SetSort(bson.D{
		{Key: "usage_count", Value: -1},
		{Key: "created_at", Value: -1},
	})
	cursor, err := r.collection.Find(ctx, query, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find templates: %w", err)
	}
	defer cursor.Close(ctx)

	templates := []*models.Template{}
	if err := cursor.All(ctx, &templates); err != nil {
		return nil, fmt.Errorf("failed to decode templates: %w", err)
	}
	return templates, nil
}

func (r *MongoTemplateStore) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *MongoTemplateStore) IncrementUsage(ctx context.Context, id string) error {
	update := bson.M{
		"$inc": bson.M{"usage_count": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to increment template usage %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *MongoTemplateStore) Count(ctx context.Context) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count templates: %w", err)
	}
	return count, nil
}

func (r *MongoTemplateStore) DeleteAll(ctx context.Context) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to delete templates: %w", err)
	}
	return nil
}

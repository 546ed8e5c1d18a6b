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

const postCollectionName = "posts"

// MongoPostStore keeps posts as documents. Transition relies on UpdateOne
// being atomic for a single document.
type MongoPostStore struct {
	collection *mongo.Collection
}

func NewMongoPostStore(db *mongo.Database) *MongoPostStore {
	return &MongoPostStore{
		collection: db.Collection(postCollectionName),
	}
}

// Init creates the (status, scheduled_for) index used by FindDue.
func (r *MongoPostStore) Init(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: models.ColumnStatus, Value: 1}, {Key: models.ColumnScheduledFor, Value: 1}},
		Options: options.Index().SetName("idx_posts_status_scheduled_for"),
	})
	if err != nil {
		return fmt.Errorf("failed to create posts index: %w", err)
	}
	return nil
}

func (r *MongoPostStore) Create(ctx context.Context, post *models.Post) error {
	now := time.Now().UTC()
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.Status == "" {
		post.Status = models.StatusDraft
	}
	if post.CreatedBy == "" {
		post.CreatedBy = "admin"
	}
	if post.ScheduledFor != nil {
		at := post.ScheduledFor.UTC()
		post.ScheduledFor = &at
	}
	post.CreatedAt = now
	post.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, post); err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

func (r *MongoPostStore) Get(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&post)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find post %s: %w", id, err)
	}
	return &post, nil
}

func (r *MongoPostStore) List(ctx context.Context, filter PostFilter) ([]*models.Post, error) {
	query := bson.M{}
	if filter.Status != "" {
		query[models.ColumnStatus] = string(filter.Status)
	}

	findOptions := options.Find()
	if filter.BySchedule {
		findOptions.SetSort(bson.D{{Key: models.ColumnScheduledFor, Value: 1}})
	} else {
		findOptions.SetSort(bson.D{{Key: "created_at", Value: -1}})
	}

	return r.find(ctx, query, findOptions)
}

func (r *MongoPostStore) UpdateContent(ctx context.Context, id string, content PostContent) (*models.Post, error) {
	if content.empty() {
		return r.Get(ctx, id)
	}

	set := bson.M(content.Fields())
	set[models.ColumnUpdatedAt] = time.Now().UTC()

	filter := bson.M{"_id": id, models.ColumnStatus: bson.M{"$ne": string(models.StatusPublishing)}}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return nil, fmt.Errorf("failed to update post %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return nil, r.missOrConflict(ctx, id)
	}
	return r.Get(ctx, id)
}

func (r *MongoPostStore) Delete(ctx context.Context, id string) error {
	filter := bson.M{"_id": id, models.ColumnStatus: bson.M{"$ne": string(models.StatusPublishing)}}
	result, err := r.collection.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete post %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

func (r *MongoPostStore) FindDue(ctx context.Context, now time.Time) ([]*models.Post, error) {
	filter := bson.M{
		models.ColumnStatus:       string(models.StatusScheduled),
		models.ColumnScheduledFor: bson.M{"$ne": nil, "$lte": now.UTC()},
	}
	findOptions := options.Find().SetSort(bson.D{{Key: models.ColumnScheduledFor, Value: 1}})
	return r.find(ctx, filter, findOptions)
}

func (r *MongoPostStore) FindStale(ctx context.Context, claimedBefore time.Time) ([]*models.Post, error) {
	filter := bson.M{
		models.ColumnStatus: string(models.StatusPublishing),
		"$or": bson.A{
			bson.M{models.ColumnClaimedAt: nil},
			bson.M{models.ColumnClaimedAt: bson.M{"$lt": claimedBefore.UTC()}},
		},
	}
	findOptions := options.Find().SetSort(bson.D{{Key: models.ColumnClaimedAt, Value: 1}})
	return r.find(ctx, filter, findOptions)
}

func (r *MongoPostStore) Transition(ctx context.Context, id string, from []models.PostStatus, to models.PostStatus, fields models.Fields) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	set := bson.M{}
	for column, value := range fields {
		set[column] = value
	}
	set[models.ColumnStatus] = string(to)
	set[models.ColumnUpdatedAt] = time.Now().UTC()

	filter := bson.M{"_id": id, models.ColumnStatus: bson.M{"$in": statusStrings(from)}}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("failed to transition post %s to %s: %w", id, to, err)
	}
	return result.MatchedCount == 1, nil
}

func (r *MongoPostStore) CountByStatus(ctx context.Context) (map[models.PostStatus]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + models.ColumnStatus},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode post counts: %w", err)
	}

	counts := make(map[models.PostStatus]int64, len(rows))
	for _, row := range rows {
		counts[models.PostStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func (r *MongoPostStore) find(ctx context.Context, filter bson.M, findOptions *options.FindOptions) ([]*models.Post, error) {
	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find posts: %w", err)
	}
	defer cursor.Close(ctx)

	posts := []*models.Post{}
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}
	return posts, nil
}

func (r *MongoPostStore) missOrConflict(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("post %s: %w", id, ErrConflict)
}

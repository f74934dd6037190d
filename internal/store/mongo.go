package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayush/task-manager/internal/models"
)

// MongoTaskStore handles task CRUD in MongoDB. Every lookup carries the owner
// in its filter.
type MongoTaskStore struct {
	col *mongo.Collection
}

func NewMongoTaskStore(db *mongo.Database) *MongoTaskStore {
	return &MongoTaskStore{col: db.Collection("tasks")}
}

// EnsureIndexes creates the owner index used by every task query.
func (s *MongoTaskStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongo task index: %w", err)
	}
	return nil
}

func (s *MongoTaskStore) Insert(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()
	task.ID = primitive.NewObjectID()
	task.CreatedAt = now
	task.UpdatedAt = now
	if _, err := s.col.InsertOne(ctx, task); err != nil {
		return fmt.Errorf("mongo insert task: %w", err)
	}
	return nil
}

func (s *MongoTaskStore) List(ctx context.Context, owner string, q TaskQuery) ([]models.Task, error) {
	filter, opts := listArgs(owner, q)
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo find tasks: %w", err)
	}
	defer cur.Close(ctx)

	tasks := []models.Task{}
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("mongo decode tasks: %w", err)
	}
	return tasks, nil
}

func (s *MongoTaskStore) FindOwned(ctx context.Context, id, owner string) (*models.Task, error) {
	filter, ok := ownedFilter(id, owner)
	if !ok {
		return nil, ErrNotFound
	}
	var task models.Task
	if err := s.col.FindOne(ctx, filter).Decode(&task); err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (s *MongoTaskStore) UpdateOwned(ctx context.Context, id, owner string, upd models.TaskUpdate) (*models.Task, error) {
	filter, ok := ownedFilter(id, owner)
	if !ok {
		return nil, ErrNotFound
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var task models.Task
	err := s.col.FindOneAndUpdate(ctx, filter, taskSet(upd, time.Now().UTC()), opts).Decode(&task)
	if err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (s *MongoTaskStore) DeleteOwned(ctx context.Context, id, owner string) (*models.Task, error) {
	filter, ok := ownedFilter(id, owner)
	if !ok {
		return nil, ErrNotFound
	}
	var task models.Task
	if err := s.col.FindOneAndDelete(ctx, filter).Decode(&task); err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (s *MongoTaskStore) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{"owner": owner})
	if err != nil {
		return 0, fmt.Errorf("mongo delete tasks: %w", err)
	}
	return res.DeletedCount, nil
}

// listArgs turns a task query into a Find filter and options. _id is always
// the last sort key so pages are stable.
func listArgs(owner string, q TaskQuery) (bson.M, *options.FindOptions) {
	filter := bson.M{"owner": owner}
	if q.Completed != nil {
		filter["completed"] = *q.Completed
	}

	idOrder := 1
	sort := bson.D{}
	switch q.SortField {
	case "":
	case "_id":
		idOrder = direction(q.SortDesc)
	default:
		sort = append(sort, bson.E{Key: q.SortField, Value: direction(q.SortDesc)})
	}
	sort = append(sort, bson.E{Key: "_id", Value: idOrder})

	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	return filter, opts
}

func ownedFilter(id, owner string) (bson.M, bool) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, false
	}
	return bson.M{"_id": oid, "owner": owner}, true
}

func taskSet(upd models.TaskUpdate, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}
	if upd.Completed != nil {
		set["completed"] = *upd.Completed
	}
	return bson.M{"$set": set}
}

func direction(desc bool) int {
	if desc {
		return -1
	}
	return 1
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

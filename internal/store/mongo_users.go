package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayush/task-manager/internal/models"
)

// MongoUserStore keeps users, with their session tokens and avatar embedded,
// in a single MongoDB collection.
type MongoUserStore struct {
	col *mongo.Collection
}

func NewMongoUserStore(db *mongo.Database) *MongoUserStore {
	return &MongoUserStore{col: db.Collection("users")}
}

// withoutAvatar keeps avatar bytes out of lookups made on every request.
var withoutAvatar = bson.M{"avatar": 0}

// EnsureIndexes creates the unique email index.
func (s *MongoUserStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo user index: %w", err)
	}
	return nil
}

func (s *MongoUserStore) Create(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	u.ID = primitive.NewObjectID().Hex()
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.Tokens == nil {
		u.Tokens = []models.SessionToken{}
	}
	if _, err := s.col.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("mongo insert user: %w", err)
	}
	return nil
}

func (s *MongoUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *MongoUserStore) FindByIDAndToken(ctx context.Context, id, token string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": id, "tokens.token": token})
}

func (s *MongoUserStore) AddToken(ctx context.Context, id, token string) error {
	return s.updateOne(ctx, id, bson.M{
		"$push": bson.M{"tokens": models.SessionToken{Token: token}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
}

func (s *MongoUserStore) RemoveToken(ctx context.Context, id, token string) error {
	return s.updateOne(ctx, id, bson.M{
		"$pull": bson.M{"tokens": bson.M{"token": token}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
}

func (s *MongoUserStore) ClearTokens(ctx context.Context, id string) error {
	return s.updateOne(ctx, id, bson.M{
		"$set": bson.M{"tokens": []models.SessionToken{}, "updatedAt": time.Now().UTC()},
	})
}

func (s *MongoUserStore) Update(ctx context.Context, id string, upd models.UserUpdate) (*models.User, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Email != nil {
		set["email"] = *upd.Email
	}
	if upd.Password != nil {
		set["password"] = *upd.Password
	}
	if upd.Age != nil {
		set["age"] = *upd.Age
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(withoutAvatar)
	var u models.User
	err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&u)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *MongoUserStore) SetAvatar(ctx context.Context, id string, data []byte, contentType string) error {
	now := time.Now().UTC()
	if len(data) == 0 {
		return s.updateOne(ctx, id, bson.M{
			"$unset": bson.M{"avatar": "", "avatarType": ""},
			"$set":   bson.M{"updatedAt": now},
		})
	}
	return s.updateOne(ctx, id, bson.M{
		"$set": bson.M{"avatar": data, "avatarType": contentType, "updatedAt": now},
	})
}

func (s *MongoUserStore) GetAvatar(ctx context.Context, id string) ([]byte, string, error) {
	opts := options.FindOne().SetProjection(bson.M{"avatar": 1, "avatarType": 1})
	var u models.User
	if err := s.col.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&u); err != nil {
		return nil, "", notFound(err)
	}
	if len(u.Avatar) == 0 {
		return nil, "", ErrNotFound
	}
	return u.Avatar, u.AvatarType, nil
}

func (s *MongoUserStore) Delete(ctx context.Context, id string) error {
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoUserStore) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	opts := options.FindOne().SetProjection(withoutAvatar)
	if err := s.col.FindOne(ctx, filter, opts).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *MongoUserStore) updateOne(ctx context.Context, id string, update bson.M) error {
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("mongo update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

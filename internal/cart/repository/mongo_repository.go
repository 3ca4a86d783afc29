package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/settlement-service/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *mongoRepository) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	var cart domain.Cart

	err := m.collection.FindOne(ctx, bson.M{"owner_id": ownerID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

func (m *mongoRepository) SaveCart(ctx context.Context, cart *domain.Cart, expected time.Time) error {
	if expected.IsZero() {
		if cart.CreatedAt.IsZero() {
			cart.CreatedAt = cart.UpdatedAt
		}
		_, err := m.collection.InsertOne(ctx, cart)
		if mongo.IsDuplicateKeyError(err) {
			return ErrStaleCart
		}
		if err != nil {
			return fmt.Errorf("failed to create cart: %w", err)
		}
		return nil
	}

	filter := bson.M{"owner_id": cart.OwnerID, "updated_at": expected}
	update := bson.M{"$set": bson.M{
		"lines":      cart.Lines,
		"updated_at": cart.UpdatedAt,
	}}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrStaleCart
	}
	return nil
}

func (m *mongoRepository) DeleteCart(ctx context.Context, ownerID string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}

	return nil
}

func (m *mongoRepository) DeleteCartIfUnchangedSince(ctx context.Context, ownerID string, t time.Time) (bool, error) {
	filter := bson.M{"owner_id": ownerID, "updated_at": bson.M{"$lte": t}}
	result, err := m.collection.DeleteOne(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("failed to delete cart: %w", err)
	}
	return result.DeletedCount > 0, nil
}

func (m *mongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// CreateIndexes ensures the owner and TTL indexes on a repository built by
// NewMongoRepository.
func CreateIndexes(ctx context.Context, repo CartRepository) error {
	mr, ok := repo.(*mongoRepository)
	if !ok {
		return fmt.Errorf("not a mongo cart repository: %T", repo)
	}
	return mr.CreateIndexes(ctx)
}

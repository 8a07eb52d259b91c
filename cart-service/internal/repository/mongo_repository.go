package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/courtside/storefront/cart-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrCartNotFound = errors.New("cart not found")

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *mongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []domain.CartLine{}
	}
	return &cart, nil
}

func (m *mongoRepository) ReplaceCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	items := cart.Items
	if items == nil {
		items = []domain.CartLine{}
	}

	update := bson.M{
		"$set": bson.M{
			"items":      items,
			"updated_at": cart.UpdatedAt,
		},
		"$setOnInsert": bson.M{"created_at": cart.CreatedAt},
	}
	_, err := m.collection.UpdateOne(ctx, bson.M{"user_id": cart.UserID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to replace cart: %w", err)
	}
	return nil
}

func lineMatch(key domain.LineKey) bson.M {
	return bson.M{
		"product_id":    key.ProductID,
		"variant.size":  key.Size,
		"variant.color": key.Color,
	}
}

func (m *mongoRepository) UpsertLine(ctx context.Context, userID string, line domain.CartLine) error {
	key := line.Key()
	now := time.Now().UTC()
	if line.AddedAt.IsZero() {
		line.AddedAt = now
	}

	for attempt := 0; attempt < 2; attempt++ {
		updated, err := m.setLineQuantity(ctx, userID, key, line.Quantity, now)
		if err != nil {
			return err
		}
		if updated {
			return nil
		}

		// Push only when no line with this key exists; the filter keeps two
		// racing writers from appending the same key twice.
		filter := bson.M{
			"user_id": userID,
			"items":   bson.M{"$not": bson.M{"$elemMatch": lineMatch(key)}},
		}
		update := bson.M{
			"$push":        bson.M{"items": line},
			"$set":         bson.M{"updated_at": now},
			"$setOnInsert": bson.M{"created_at": now},
		}
		_, err = m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to add line: %w", err)
		}
		// The cart exists and already holds the key: retry as a quantity update.
	}
	return fmt.Errorf("failed to upsert line %s: concurrent modification", key)
}

func (m *mongoRepository) setLineQuantity(ctx context.Context, userID string, key domain.LineKey, quantity int, now time.Time) (bool, error) {
	filter := bson.M{
		"user_id": userID,
		"items":   bson.M{"$elemMatch": lineMatch(key)},
	}
	update := bson.M{
		"$set": bson.M{
			"items.$[elem].quantity": quantity,
			"updated_at":             now,
		},
	}
	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{
				"elem.product_id":    key.ProductID,
				"elem.variant.size":  key.Size,
				"elem.variant.color": key.Color,
			},
		},
	})

	result, err := m.collection.UpdateOne(ctx, filter, update, arrayFilters)
	if err != nil {
		return false, fmt.Errorf("failed to update line quantity: %w", err)
	}
	return result.MatchedCount > 0, nil
}

func (m *mongoRepository) RemoveLine(ctx context.Context, userID string, key domain.LineKey) error {
	update := bson.M{
		"$pull": bson.M{"items": lineMatch(key)},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := m.collection.UpdateOne(ctx, bson.M{"user_id": userID}, update)
	if err != nil {
		return fmt.Errorf("failed to remove line: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoRepository) DeleteCart(ctx context.Context, userID string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// IndexCreator is implemented by repositories that manage their own indexes.
type IndexCreator interface {
	CreateIndexes(ctx context.Context) error
}

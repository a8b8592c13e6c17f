package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fjod/cartstate/internal/domain"
)

const (
	collectionName = "carts"
	cartTTL        = 90 * 24 * time.Hour
)

// Prices are kept as decimal strings and catalog metadata as its JSON text, so the
// document reads back exactly as it was written.
type itemDocument struct {
	ID       int64  `bson:"id"`
	Name     string `bson:"name"`
	Price    string `bson:"price"`
	Quantity int    `bson:"quantity"`
	Size     string `bson:"size"`
	Catalog  string `bson:"catalog,omitempty"`
}

type cartDocument struct {
	SessionID  string         `bson:"session_id"`
	Items      []itemDocument `bson:"items"`
	TotalPrice string         `bson:"total_price"`
	CreatedAt  time.Time      `bson:"created_at"`
	UpdatedAt  time.Time      `bson:"updated_at"`
}

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		collection: db.Collection(collectionName),
	}
}

func (m *mongoRepository) GetCart(ctx context.Context, sessionID string) (*domain.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	cart, err := fromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cart %s: %w", sessionID, err)
	}
	return cart, nil
}

func (m *mongoRepository) SaveCart(ctx context.Context, sessionID string, cart *domain.Cart) error {
	items, err := toItemDocuments(cart.Items)
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}

	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"items":       items,
			"total_price": cart.TotalPrice.String(),
			"updated_at":  now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, bson.M{"session_id": sessionID}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

func (m *mongoRepository) DeleteCart(ctx context.Context, sessionID string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

// CreateIndexes makes session ids unique and expires carts untouched for 90 days.
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(cartTTL.Seconds())),
		},
	}

	if _, err := db.Collection(collectionName).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func toItemDocuments(items []domain.LineItem) ([]itemDocument, error) {
	docs := make([]itemDocument, 0, len(items))
	for _, item := range items {
		doc := itemDocument{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price.String(),
			Quantity: item.Quantity,
			Size:     item.Size,
		}
		if item.Catalog.Len() > 0 {
			raw, err := json.Marshal(item.Catalog)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", item.ID, err)
			}
			doc.Catalog = string(raw)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func fromDocument(doc cartDocument) (*domain.Cart, error) {
	cart := domain.NewCart()
	for _, d := range doc.Items {
		price, err := decimal.NewFromString(d.Price)
		if err != nil {
			return nil, fmt.Errorf("item %d price: %w", d.ID, err)
		}

		item := domain.LineItem{
			ID:    d.ID,
			Name:  d.Name,
			Price: price,
			Size:  d.Size,
		}
		if d.Catalog != "" {
			catalog, err := domain.ParseCatalog([]byte(d.Catalog))
			if err != nil {
				return nil, fmt.Errorf("item %d catalog: %w", d.ID, err)
			}
			item.Catalog = catalog
		}
		cart.Items = append(cart.Items, item.WithQuantity(d.Quantity))
	}
	cart.TotalPrice = domain.Total(cart.Items)
	return &cart, nil
}

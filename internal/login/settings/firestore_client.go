package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultFirestoreCollection holds one document per public setting, keyed by
// setting name, with the value stored in the "value" field.
const DefaultFirestoreCollection = "publicSettings"

// FirestoreClient reads public settings from a Firestore collection.
type FirestoreClient struct {
	collection string
	fetch      documentFetcher
}

// documentFetcher returns the data of collection/id.
type documentFetcher func(ctx context.Context, collection, id string) (map[string]any, error)

// NewFirestoreClient binds the client to collection (DefaultFirestoreCollection when empty).
func NewFirestoreClient(client *firestore.Client, collection string) (*FirestoreClient, error) {
	if client == nil {
		return nil, errors.New("settings: firestore client is required")
	}
	return newFirestoreClient(collection, func(ctx context.Context, collection, id string) (map[string]any, error) {
		snap, err := client.Collection(collection).Doc(id).Get(ctx)
		if err != nil {
			return nil, err
		}
		return snap.Data(), nil
	}), nil
}

func newFirestoreClient(collection string, fetch documentFetcher) *FirestoreClient {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = DefaultFirestoreCollection
	}
	return &FirestoreClient{collection: collection, fetch: fetch}
}

// PublicSetting implements Client.
func (c *FirestoreClient) PublicSetting(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "/") {
		return "", fmt.Errorf("settings: invalid key %q", key)
	}

	data, err := c.fetch(ctx, c.collection, key)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("settings: firestore get %s/%s: %w", c.collection, key, err)
	}
	return valueFromDocument(data)
}

func valueFromDocument(data map[string]any) (string, error) {
	if data == nil {
		return "", nil
	}
	value, ok := data["value"]
	if !ok {
		return "", nil
	}
	if i, ok := value.(int64); ok {
		return fmt.Sprintf("%d", i), nil
	}
	return scalarString(value)
}

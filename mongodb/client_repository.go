package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.pilab.hu/idp/domain"
)

// ClientRepository is the Mongo-backed domain.ClientRegistry.
type ClientRepository struct {
	coll *mongo.Collection
}

var _ domain.ClientRegistry = (*ClientRepository)(nil)

func NewClientRepository(ctx context.Context, db *mongo.Database) *ClientRepository {
	coll := db.Collection(ClientsCollection)

	ensureIndexes(ctx, coll, []mongo.IndexModel{{
		Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "client_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("tenant_client_unique"),
	}})

	return &ClientRepository{coll: coll}
}

// Upsert creates or replaces a client.
func (r *ClientRepository) Upsert(ctx context.Context, client *domain.Client) error {
	filter := bson.M{"tenant_id": client.TenantID, "client_id": client.ID}
	_, err := r.coll.ReplaceOne(ctx, filter, client, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert client: %w", err)
	}
	return nil
}

func (r *ClientRepository) GetClient(ctx context.Context, tenantID, clientID string) (*domain.Client, error) {
	var client domain.Client
	err := r.coll.FindOne(ctx, bson.M{"tenant_id": tenantID, "client_id": clientID}).Decode(&client)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find client: %w", err)
	}
	return &client, nil
}

func (r *ClientRepository) GetClientScopes(ctx context.Context, tenantID, clientID string) ([]string, error) {
	client, err := r.GetClient(ctx, tenantID, clientID)
	if err != nil {
		return nil, err
	}
	return client.Scopes, nil
}

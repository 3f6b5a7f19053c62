package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.pilab.hu/idp/domain"
)

// ScopeRepository is the Mongo-backed domain.ScopeRegistry.
type ScopeRepository struct {
	coll *mongo.Collection
}

var _ domain.ScopeRegistry = (*ScopeRepository)(nil)

func NewScopeRepository(ctx context.Context, db *mongo.Database) *ScopeRepository {
	coll := db.Collection(ScopesCollection)

	ensureIndexes(ctx, coll, []mongo.IndexModel{{
		Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("tenant_scope_unique"),
	}})

	return &ScopeRepository{coll: coll}
}

// Upsert creates or replaces a scope definition.
func (r *ScopeRepository) Upsert(ctx context.Context, scope *domain.Scope) error {
	filter := bson.M{"tenant_id": scope.TenantID, "name": scope.Name}
	_, err := r.coll.ReplaceOne(ctx, filter, scope, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert scope: %w", err)
	}
	return nil
}

// GetScopes returns the known scopes among names. Unknown names are skipped.
func (r *ScopeRepository) GetScopes(ctx context.Context, tenantID string, names []string) ([]domain.Scope, error) {
	if len(names) == 0 {
		return nil, nil
	}

	cursor, err := r.coll.Find(ctx, bson.M{"tenant_id": tenantID, "name": bson.M{"$in": names}})
	if err != nil {
		return nil, fmt.Errorf("failed to find scopes: %w", err)
	}
	defer cursor.Close(ctx)

	var scopes []domain.Scope
	if err := cursor.All(ctx, &scopes); err != nil {
		return nil, fmt.Errorf("failed to decode scopes: %w", err)
	}
	return scopes, nil
}

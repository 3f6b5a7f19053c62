package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.pilab.hu/idp/domain"
)

// ConsentRepository stores one document per granted scope.
type ConsentRepository struct {
	coll *mongo.Collection
}

var _ domain.ConsentStore = (*ConsentRepository)(nil)

func NewConsentRepository(ctx context.Context, db *mongo.Database) *ConsentRepository {
	coll := db.Collection(ConsentsCollection)

	ensureIndexes(ctx, coll, []mongo.IndexModel{{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "client_id", Value: 1},
			{Key: "user_id", Value: 1},
			{Key: "scope", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("tenant_client_user_scope_unique"),
	}})

	return &ConsentRepository{coll: coll}
}

func (r *ConsentRepository) GetConsentedScopes(ctx context.Context, tenantID, clientID, userID string) ([]string, error) {
	filter := bson.M{"tenant_id": tenantID, "client_id": clientID, "user_id": userID}
	opts := options.Find().SetProjection(bson.M{"scope": 1}).SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find consents: %w", err)
	}
	defer cursor.Close(ctx)

	var consents []domain.UserConsent
	if err := cursor.All(ctx, &consents); err != nil {
		return nil, fmt.Errorf("failed to decode consents: %w", err)
	}

	scopes := make([]string, 0, len(consents))
	for _, c := range consents {
		scopes = append(scopes, c.Scope)
	}
	return scopes, nil
}

// SaveConsents appends consent records. Scopes that were already granted are
// skipped by the unique index.
func (r *ConsentRepository) SaveConsents(ctx context.Context, tenantID, clientID, userID string, scopes []string) error {
	if len(scopes) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(scopes))
	for _, scope := range scopes {
		docs = append(docs, domain.UserConsent{
			TenantID:  tenantID,
			ClientID:  clientID,
			UserID:    userID,
			Scope:     scope,
			CreatedAt: now,
		})
	}

	_, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !onlyDuplicateKeys(err) {
		return fmt.Errorf("failed to save consents: %w", err)
	}
	return nil
}

func onlyDuplicateKeys(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
		return mongo.IsDuplicateKeyError(err)
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}

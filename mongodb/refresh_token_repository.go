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

// RefreshTokenRepository implements domain.TokenStore. The SSO companion is
// embedded in the refresh token document, so every write touches both in a
// single-document operation.
type RefreshTokenRepository struct {
	coll *mongo.Collection
}

var _ domain.TokenStore = (*RefreshTokenRepository)(nil)

func NewRefreshTokenRepository(ctx context.Context, db *mongo.Database) *RefreshTokenRepository {
	coll := db.Collection(RefreshTokensCollection)

	ensureIndexes(ctx, coll, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "refresh_token", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("tenant_refresh_token_unique"),
		},
		{
			Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "sso.token", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("tenant_sso_token_unique").
				SetPartialFilterExpression(bson.M{"sso.token": bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "is_active", Value: 1}},
			Options: options.Index().SetName("tenant_user_active"),
		},
	})

	return &RefreshTokenRepository{coll: coll}
}

// deactivate clears is_active on the token and, when present, on its SSO
// companion.
var deactivate = mongo.Pipeline{
	{{Key: "$set", Value: bson.D{
		{Key: "is_active", Value: false},
		{Key: "sso", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$ifNull", Value: bson.A{"$sso", false}}},
			bson.D{{Key: "$mergeObjects", Value: bson.A{"$sso", bson.D{{Key: "is_active", Value: false}}}}},
			"$$REMOVE",
		}}}},
	}}},
}

func (r *RefreshTokenRepository) SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	if _, err := r.coll.InsertOne(ctx, token); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) findOne(ctx context.Context, filter bson.M) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	if err := r.coll.FindOne(ctx, filter).Decode(&token); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	return &token, nil
}

func (r *RefreshTokenRepository) GetRefreshToken(ctx context.Context, tenantID, token string) (*domain.RefreshToken, error) {
	return r.findOne(ctx, bson.M{"tenant_id": tenantID, "refresh_token": token})
}

func (r *RefreshTokenRepository) GetClientRefreshToken(ctx context.Context, tenantID, clientID, token string) (*domain.RefreshToken, error) {
	return r.findOne(ctx, bson.M{"tenant_id": tenantID, "client_id": clientID, "refresh_token": token})
}

func (r *RefreshTokenRepository) GetRefreshTokenBySsoToken(ctx context.Context, tenantID, ssoToken string) (*domain.RefreshToken, error) {
	return r.findOne(ctx, bson.M{"tenant_id": tenantID, "sso.token": ssoToken})
}

func (r *RefreshTokenRepository) ListActiveRefreshTokens(ctx context.Context, tenantID, userID, clientID string) ([]*domain.RefreshToken, error) {
	filter := bson.M{"tenant_id": tenantID, "user_id": userID, "is_active": true}
	if clientID != "" {
		filter["client_id"] = clientID
	}

	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh tokens: %w", err)
	}
	defer cursor.Close(ctx)

	var tokens []*domain.RefreshToken
	if err := cursor.All(ctx, &tokens); err != nil {
		return nil, fmt.Errorf("failed to decode refresh tokens: %w", err)
	}
	return tokens, nil
}

func (r *RefreshTokenRepository) InvalidateRefreshToken(ctx context.Context, tenantID, token string) (bool, error) {
	return r.invalidateOne(ctx, bson.M{"tenant_id": tenantID, "refresh_token": token, "is_active": true})
}

func (r *RefreshTokenRepository) InvalidateClientRefreshToken(ctx context.Context, tenantID, clientID, token string) (bool, error) {
	return r.invalidateOne(ctx, bson.M{
		"tenant_id":     tenantID,
		"client_id":     clientID,
		"refresh_token": token,
		"is_active":     true,
	})
}

func (r *RefreshTokenRepository) invalidateOne(ctx context.Context, filter bson.M) (bool, error) {
	result, err := r.coll.UpdateOne(ctx, filter, deactivate)
	if err != nil {
		return false, fmt.Errorf("failed to invalidate refresh token: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

func (r *RefreshTokenRepository) InvalidateRefreshTokens(ctx context.Context, tenantID string, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	filter := bson.M{
		"tenant_id":     tenantID,
		"refresh_token": bson.M{"$in": tokens},
		"is_active":     true,
	}
	result, err := r.coll.UpdateMany(ctx, filter, deactivate)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate refresh tokens: %w", err)
	}
	return result.ModifiedCount, nil
}

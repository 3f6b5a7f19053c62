package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

var (
	mu             sync.Mutex
	clientInstance *mongo.Client
	dbInstance     *mongo.Database
)

// InitMongoDB connects the shared client, verifies it against the primary and
// selects dbName. Calling it again after a successful init is a no-op.
func InitMongoDB(ctx context.Context, uri, dbName string) error {
	mu.Lock()
	defer mu.Unlock()

	if clientInstance != nil {
		return nil
	}

	log.Info().Str("db", dbName).Msg("Initializing MongoDB client")

	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping MongoDB primary: %w", err)
	}

	clientInstance = client
	dbInstance = client.Database(dbName)
	log.Info().Msg("MongoDB client initialized successfully.")

	return nil
}

// GetDB returns the database selected by InitMongoDB.
func GetDB() (*mongo.Database, error) {
	mu.Lock()
	defer mu.Unlock()
	if dbInstance == nil {
		return nil, errors.New("mongodb is not initialized, call InitMongoDB first")
	}
	return dbInstance, nil
}

// Ping checks connectivity of the shared client. Useful for health checks.
func Ping(ctx context.Context) error {
	mu.Lock()
	client := clientInstance
	mu.Unlock()
	if client == nil {
		return errors.New("mongodb is not initialized, call InitMongoDB first")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(pingCtx, readpref.Primary())
}

// CloseMongoDB disconnects the shared client.
func CloseMongoDB(ctx context.Context) {
	mu.Lock()
	defer mu.Unlock()
	if clientInstance == nil {
		return
	}
	log.Info().Msg("Closing MongoDB connection.")
	if err := clientInstance.Disconnect(ctx); err != nil {
		log.Error().Err(err).Msg("Error closing MongoDB connection")
	}
	clientInstance = nil
	dbInstance = nil
}

// ensureIndexes creates indexes, logging instead of failing when they already
// exist with different options.
func ensureIndexes(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) {
	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		log.Warn().Err(err).Str("collection", coll.Name()).Msg("Issue creating indexes")
		return
	}
	log.Debug().Str("collection", coll.Name()).Msg("Indexes ensured.")
}

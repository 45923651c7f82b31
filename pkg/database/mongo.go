package database

import (
	"context"
	"fmt"
	"time"

	"trackus_chat/pkg/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// mongoAttemptTimeout bounds connect+ping of a single attempt
const mongoAttemptTimeout = 10 * time.Second

// NewMongoDB connect and ping with retry. Change streams need a replica set; a
// standalone server still works, subscriptions then fall back to polling.
func NewMongoDB(ctx context.Context, c Connection, dbName string) (*MongoDB, error) {
	clientOpts := options.Client().
		ApplyURI(c.ConnectStr).
		SetServerSelectionTimeout(mongoAttemptTimeout)

	var lastErr error
	for attempt := 0; attempt <= c.RetryCount; attempt++ {
		db, err := connectMongoOnce(ctx, clientOpts, dbName)
		if err == nil {
			return db, nil
		}
		lastErr = err

		logger.Log.Warn("Failed to connect to mongoDB, retrying...", zap.Int("attempt", attempt+1), zap.Error(err))
		if attempt < c.RetryCount {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.RetryInterval):
			}
		}
	}
	return nil, fmt.Errorf("failed to connect to MongoDB after retries: %w", lastErr)
}

func connectMongoOnce(ctx context.Context, opts *options.ClientOptions, dbName string) (*MongoDB, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, mongoAttemptTimeout)
	defer cancel()

	client, err := mongo.Connect(attemptCtx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(attemptCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return &MongoDB{Client: client, Database: client.Database(dbName)}, nil
}

// Close disconnect mongoDB
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

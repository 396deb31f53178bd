package database

import (
	"context"
	"fmt"
	"time"

	"github.com/gogotex/collabdocs/internal/config"
	"github.com/gogotex/collabdocs/pkg/logger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const maxAttempts = 5

// ConnectMongo opens a connection and returns the client. Caller should call client.Disconnect(ctx).
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	clientOpts := options.Client().ApplyURI(uri).SetAppName("collabdocs")
	if err := clientOpts.Validate(); err != nil {
		return nil, fmt.Errorf("mongo uri: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// Connect retries ConnectMongo with exponential backoff to tolerate
// startup races with the database container. A malformed URI fails at once.
func Connect(ctx context.Context, cfg config.MongoDBConfig) (*mongo.Client, error) {
	if err := options.Client().ApplyURI(cfg.URI).Validate(); err != nil {
		return nil, fmt.Errorf("mongo uri: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client, err := ConnectMongo(ctx, cfg.URI, timeout)
		if err == nil {
			logger.Infof("connected to MongoDB database %s", cfg.Database)
			return client, nil
		}
		lastErr = err
		logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("could not connect to MongoDB after %d attempts: %w", maxAttempts, lastErr)
}

// Package mongo stores attendance records and face profiles in MongoDB using
// the document layout of the desktop kiosk app (collections "records" and
// "faces"), so existing databases can be reused as they are.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	recordsCollection = "records"
	facesCollection   = "faces"
)

// Client wraps a connected MongoDB client and the selected database.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// Open connects to cfg.URL and prepares indexes.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("MongoDB URI is required")
	}
	if cfg.MongoDatabase == "" {
		return nil, errors.New("MongoDB database name is required")
	}

	opts := options.Client().
		ApplyURI(cfg.URL).
		SetServerSelectionTimeout(10 * time.Second)
	if cfg.MaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxOpenConns))
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	c := &Client{client: client, db: client.Database(cfg.MongoDatabase), logger: logger}
	c.ensureIndexes(ctx)
	return c, nil
}

// ensureIndexes creates lookup indexes. Databases written by older kiosks may
// hold duplicate keys, so a failure is logged and not fatal.
func (c *Client) ensureIndexes(ctx context.Context) {
	indexes := []struct {
		collection string
		model      mongo.IndexModel
	}{
		{recordsCollection, mongo.IndexModel{
			Keys:    bson.D{{Key: "date", Value: 1}, {Key: "userName", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{facesCollection, mongo.IndexModel{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
	}
	for _, idx := range indexes {
		if _, err := c.db.Collection(idx.collection).Indexes().CreateOne(ctx, idx.model); err != nil {
			c.logger.Warn("could not create mongo index", "collection", idx.collection, "error", err)
		}
	}
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping MongoDB: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect MongoDB: %w", err)
	}
	return nil
}

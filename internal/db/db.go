// Package db manages MongoDB connections and collections.
package db

import (
	"context" // For connection timeout/cancellation
	"errors"
	"fmt"  // Error formatting
	"time" // Duration for timeouts

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"          // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options"  // MongoDB options
	"go.mongodb.org/mongo-driver/v2/mongo/readpref" // MongoDB read preference
)

const (
	// DocumentsCollectionName holds every document keyed by its full path.
	DocumentsCollectionName = "documents"
	// TriggerStateCollectionName holds change-stream resume tokens per source.
	TriggerStateCollectionName = "trigger_state"

	// MongoDB "NamespaceExists" error code returned by create on an existing collection
	namespaceExistsCode = 48
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, can be reused)
	client *mongo.Client

	// db is reference to the configured database within MongoDB
	// Collections ("documents", "trigger_state") are accessed via this db reference
	db *mongo.Database
}

// New connects to MongoDB and returns a Client for the named database.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	if database == "" {
		database = "chat_db"
	}

	// Create MongoDB client options from connection URI
	// SetConnectTimeout: fail fast if MongoDB is unreachable
	// DefaultDocumentM: nested documents (embedded mate profiles) decode as maps
	opts := options.Client().
		ApplyURI(mongoURI).                  // Parse connection string
		SetConnectTimeout(10 * time.Second). // Max time to connect
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	// Establish connection to MongoDB server
	// This doesn't actually connect yet, just creates the client
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Create a context with timeout for the ping operation
	// If ping doesn't complete in 5 seconds, fail
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel() // Ensure context is cancelled (cleanup)

	// Ping MongoDB to verify connection is working
	// This is the actual connection test
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	// Return wrapped client with both MongoDB client and database references
	return &Client{
		client: client,                    // Keep reference to close connection later
		db:     client.Database(database), // Use this to access collections
	}, nil
}

// DocumentsCollection returns the collection holding all path-addressed documents.
func (c *Client) DocumentsCollection() *mongo.Collection {
	return c.db.Collection(DocumentsCollectionName)
}

// TriggerStateCollection returns the collection holding change-stream checkpoints.
func (c *Client) TriggerStateCollection() *mongo.Collection {
	return c.db.Collection(TriggerStateCollectionName)
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	// Disconnect closes the MongoDB connection
	// ctx can have timeout if you want to force shutdown after N seconds
	return c.client.Disconnect(ctx)
}

// EnsureCollections creates the documents collection (if missing) and turns on
// change-stream pre-images so delete events carry the prior document state.
// Requires MongoDB 6.0 or newer running as a replica set.
func (c *Client) EnsureCollections(ctx context.Context) error {
	err := c.db.CreateCollection(ctx, DocumentsCollectionName)
	var cmdErr mongo.CommandError
	if err != nil && !(errors.As(err, &cmdErr) && cmdErr.Code == namespaceExistsCode) {
		return fmt.Errorf("failed to create documents collection: %w", err)
	}

	// collMod is idempotent; running it on every start keeps old deployments in line
	cmd := bson.D{
		{Key: "collMod", Value: DocumentsCollectionName},
		{Key: "changeStreamPreAndPostImages", Value: bson.D{{Key: "enabled", Value: true}}},
	}
	if err := c.db.RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("failed to enable change stream pre-images: %w", err)
	}
	return nil
}

// CreateIndexes creates the indexes used by collection queries.
func (c *Client) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			// Composite index: (parent, data.timeSent)
			// Used by: Latest() to find the newest remaining message of a conversation
			// 1 = ascending, -1 = descending (newest first for timeSent)
			Keys: bson.D{{Key: "parent", Value: 1}, {Key: "data.timeSent", Value: -1}},
		},
	}

	// Execute index creation on documents collection
	if _, err := c.DocumentsCollection().Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create document indexes: %w", err)
	}

	// All indexes created successfully
	return nil
}

package data

import (
	"context"
	"errors"

	"github.com/PaulBabatuyi/chatsync/internal/paths"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// record is the MongoDB shape of a stored document.
type record struct {
	Path   string   `bson:"_id"`    // Full document path, e.g. chats/A/conversations/B
	Parent string   `bson:"parent"` // Collection path, used by Latest and DeleteCollection
	Data   Document `bson:"data"`   // Document body as written by clients or the synchronizer
}

// MongoStore provides document operations over the "documents" collection.
type MongoStore struct {
	// coll is reference to "documents" collection in MongoDB
	// Set via NewMongoStore() and used in all methods below
	coll *mongo.Collection
}

// NewMongoStore returns a MongoStore using given collection.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll} // Store reference to MongoDB collection
}

// Get reads a single document by path.
func (s *MongoStore) Get(ctx context.Context, path paths.Doc) (Document, error) {
	if !path.Valid() {
		return nil, ErrInvalidPath
	}

	// FindOne queries for document matching the _id field (the full path)
	var rec record
	err := s.coll.FindOne(ctx, bson.M{"_id": path.String()}).Decode(&rec)
	if err != nil {
		// No document found; callers treat this as an empty default state
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		// Other database errors
		return nil, err
	}
	if rec.Data == nil {
		rec.Data = Document{}
	}
	return rec.Data, nil
}

// Set replaces the document at path (creating it when missing).
func (s *MongoStore) Set(ctx context.Context, path paths.Doc, doc Document) error {
	if !path.Valid() {
		return ErrInvalidPath
	}
	if doc == nil {
		doc = Document{}
	}

	rec := record{
		Path:   path.String(),          // Document identity
		Parent: path.Parent().String(), // Enables collection queries
		Data:   doc,                    // Full replacement body
	}

	// ReplaceOne with upsert gives "set" semantics: full replace, create if absent
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": rec.Path}, rec, options.Replace().SetUpsert(true))
	return err
}

// Delete removes the document at path; deleting a missing document is not an error.
func (s *MongoStore) Delete(ctx context.Context, path paths.Doc) error {
	if !path.Valid() {
		return ErrInvalidPath
	}
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": path.String()})
	return err
}

// Latest returns the newest documents of a collection ordered by a data field.
func (s *MongoStore) Latest(ctx context.Context, coll paths.Collection, orderBy string, limit int64) ([]Document, error) {
	// Set MongoDB Find options: sort by the data field descending (newest first) and limit results
	opts := options.Find().
		SetSort(bson.D{{Key: "data." + orderBy, Value: -1}}). // -1 means descending order
		SetLimit(limit)                                       // Only return N most recent documents

	// Execute the query; Find returns a cursor to iterate results
	cursor, err := s.coll.Find(ctx, bson.M{"parent": coll.String()}, opts)
	if err != nil {
		return nil, err // Database error
	}
	// Ensure cursor is closed when done (cleanup)
	defer cursor.Close(ctx)

	// All() reads all documents from cursor and decodes into records slice
	var recs []record
	if err = cursor.All(ctx, &recs); err != nil {
		return nil, err // Error decoding documents
	}

	docs := make([]Document, 0, len(recs))
	for _, r := range recs {
		docs = append(docs, r.Data)
	}
	return docs, nil
}

// DeleteCollection removes every document whose parent is coll.
func (s *MongoStore) DeleteCollection(ctx context.Context, coll paths.Collection) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"parent": coll.String()})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/chatsync/internal/data"
	"github.com/PaulBabatuyi/chatsync/internal/paths"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// storedDoc mirrors the layout written by data.MongoStore.
type storedDoc struct {
	Data data.Document `bson:"data"`
}

// changeEvent is the subset of a change-stream event we consume.
type changeEvent struct {
	Token struct {
		Data string `bson:"_data"`
	} `bson:"_id"`
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             *storedDoc `bson:"fullDocument"`
	FullDocumentBeforeChange *storedDoc `bson:"fullDocumentBeforeChange"`
}

func (c changeEvent) toEvent() Event {
	ev := Event{ID: c.Token.Data, Path: paths.Doc(c.DocumentKey.ID)}
	if c.FullDocumentBeforeChange != nil {
		ev.Before = nonNil(c.FullDocumentBeforeChange.Data)
	}
	// a delete has no post-image; updateLookup may also find the document gone
	if c.OperationType != "delete" && c.FullDocument != nil {
		ev.After = nonNil(c.FullDocument.Data)
	}
	return ev
}

func nonNil(d data.Document) data.Document {
	if d == nil {
		return data.Document{}
	}
	return d
}

// checkpoint is the stored resume position of a source.
type checkpoint struct {
	Name      string    `bson:"_id"`
	Token     bson.Raw  `bson:"token"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoSource tails the documents collection with a change stream. The
// resume token is saved after each delivered event so a restart picks up
// where the previous process stopped (events may be seen twice, never lost).
type MongoSource struct {
	name  string
	docs  *mongo.Collection
	state *mongo.Collection
	log   *zap.Logger
}

// NewMongoSource watches docs and keeps checkpoints in state under name.
func NewMongoSource(name string, docs, state *mongo.Collection, log *zap.Logger) *MongoSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &MongoSource{name: name, docs: docs, state: state, log: log.With(zap.String("source", name))}
}

func (s *MongoSource) Name() string { return s.name }

func (s *MongoSource) Run(ctx context.Context, deliver func(context.Context, Event) error) error {
	token, err := s.loadCheckpoint(ctx)
	if err != nil {
		return err
	}

	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).             // post-image for updates
		SetFullDocumentBeforeChange(options.WhenAvailable) // pre-image for updates and deletes
	if token != nil {
		opts.SetResumeAfter(token)
	}

	// Only document-level writes are interesting; drop/rename/invalidate end the stream
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}}}},
		}}},
	}

	stream, err := s.docs.Watch(ctx, pipeline, opts)
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}
	defer stream.Close(context.Background())

	return s.consume(ctx, stream, deliver, s.saveCheckpoint)
}

// changeCursor is the part of *mongo.ChangeStream the source reads.
type changeCursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	ResumeToken() bson.Raw
	Err() error
}

// consume delivers every event of cur and records its resume token. The
// position only moves past an event once it was handled, or once the runner
// gave up on it while still running. An event interrupted by shutdown keeps
// its position so the next process sees it again.
func (s *MongoSource) consume(ctx context.Context, cur changeCursor, deliver func(context.Context, Event) error, save func(context.Context, bson.Raw) error) error {
	for cur.Next(ctx) {
		var ce changeEvent
		if err := cur.Decode(&ce); err != nil {
			s.log.Error("decode change event", zap.Error(err))
			continue
		}

		ev := ce.toEvent()
		if ev.Before == nil && ce.OperationType != "insert" {
			s.log.Warn("change event without pre-image", zap.String("op", ce.OperationType), zap.String("path", ev.Path.String()))
		}

		if err := deliver(ctx, ev); err != nil {
			if ctx.Err() != nil {
				s.log.Info("stopped before event was handled", zap.String("event_id", ev.ID), zap.String("path", ev.Path.String()))
				return nil
			}
			// the runner already retried; park the event in the log and move on
			s.log.Error("event dropped after retries", zap.String("event_id", ev.ID), zap.String("path", ev.Path.String()), zap.Error(err))
		}

		// a shutdown right after delivery must still record the position
		if err := save(context.WithoutCancel(ctx), cur.ResumeToken()); err != nil {
			s.log.Warn("save checkpoint", zap.Error(err))
		}
	}

	if err := cur.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("change stream: %w", err)
	}
	return nil
}

func (s *MongoSource) loadCheckpoint(ctx context.Context) (bson.Raw, error) {
	var cp checkpoint
	err := s.state.FindOne(ctx, bson.M{"_id": s.name}).Decode(&cp)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp.Token, nil
}

func (s *MongoSource) saveCheckpoint(ctx context.Context, token bson.Raw) error {
	if token == nil {
		return nil
	}
	cp := checkpoint{Name: s.name, Token: token, UpdatedAt: time.Now().UTC()}
	_, err := s.state.ReplaceOne(ctx, bson.M{"_id": s.name}, cp, options.Replace().SetUpsert(true))
	return err
}

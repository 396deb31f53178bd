package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/gogotex/collabdocs/internal/document"
	"github.com/gogotex/collabdocs/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps documents and versions in two collections of one
// database. Multi-document transactions need a replica set deployment.
type MongoStore struct {
	client   *mongo.Client
	docs     *mongo.Collection
	versions *mongo.Collection
}

// live matches records without a tombstone (field missing or null).
var live = bson.M{"deletedAt": nil}

func NewMongoStore(db *mongo.Database) *MongoStore {
	s := &MongoStore{
		client:   db.Client(),
		docs:     db.Collection("documents"),
		versions: db.Collection("versions"),
	}
	idx := mongo.IndexModel{Keys: bson.D{{Key: "documentId", Value: 1}, {Key: "createdAt", Value: -1}}}
	if _, err := s.versions.Indexes().CreateOne(context.Background(), idx); err != nil {
		logger.Warnf("versions index: %v", err)
	}
	return s
}

func (s *MongoStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return &document.StorageError{Op: "start session", Err: err}
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *MongoStore) Create(ctx context.Context, d *document.Document) error {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.UpdatedAt = d.CreatedAt
	if _, err := s.docs.InsertOne(ctx, d); err != nil {
		return &document.StorageError{Op: "create", Err: err}
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	err := s.docs.FindOne(ctx, bson.M{"_id": id, "deletedAt": nil}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, document.ErrNotFound
		}
		return nil, &document.StorageError{Op: "get", Err: err}
	}
	return &d, nil
}

func (s *MongoStore) List(ctx context.Context) ([]*document.Document, error) {
	cur, err := s.docs.Find(ctx, live, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, &document.StorageError{Op: "list", Err: err}
	}
	defer cur.Close(ctx)
	out := []*document.Document{}
	for cur.Next(ctx) {
		var d document.Document
		if err := cur.Decode(&d); err != nil {
			return nil, &document.StorageError{Op: "list", Err: err}
		}
		out = append(out, &d)
	}
	if err := cur.Err(); err != nil {
		return nil, &document.StorageError{Op: "list", Err: err}
	}
	return out, nil
}

func (s *MongoStore) Save(ctx context.Context, d *document.Document) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	set := bson.M{"title": d.Title, "content": d.Content, "updatedAt": d.UpdatedAt}
	res, err := s.docs.UpdateOne(ctx, bson.M{"_id": d.ID, "deletedAt": nil}, bson.M{"$set": set})
	if err != nil {
		return &document.StorageError{Op: "save", Err: err}
	}
	if res.MatchedCount == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.docs.UpdateOne(ctx, bson.M{"_id": id, "deletedAt": nil}, bson.M{"$set": bson.M{"deletedAt": time.Now().UTC()}})
	if err != nil {
		return &document.StorageError{Op: "delete", Err: err}
	}
	if res.MatchedCount == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (s *MongoStore) Archive(ctx context.Context, documentID, content string) (*document.Version, error) {
	n, err := s.docs.CountDocuments(ctx, bson.M{"_id": documentID, "deletedAt": nil})
	if err != nil {
		return nil, &document.StorageError{Op: "archive", Err: err}
	}
	if n == 0 {
		return nil, &document.StorageError{Op: "archive", Err: fmt.Errorf("document %q: %w", documentID, document.ErrNotFound)}
	}
	v := &document.Version{
		ID:         newID(),
		DocumentID: documentID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := s.versions.InsertOne(ctx, v); err != nil {
		return nil, &document.StorageError{Op: "archive", Err: err}
	}
	return v, nil
}

func (s *MongoStore) ListVersions(ctx context.Context, documentID string) iter.Seq2[*document.Version, error] {
	return func(yield func(*document.Version, error) bool) {
		opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
		cur, err := s.versions.Find(ctx, bson.M{"documentId": documentID, "deletedAt": nil}, opts)
		if err != nil {
			yield(nil, &document.StorageError{Op: "list versions", Err: err})
			return
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var v document.Version
			if err := cur.Decode(&v); err != nil {
				yield(nil, &document.StorageError{Op: "list versions", Err: err})
				return
			}
			if !yield(&v, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(nil, &document.StorageError{Op: "list versions", Err: err})
		}
	}
}

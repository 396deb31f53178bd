package service

import (
	"context"
	"errors"
	"time"

	"github.com/gogotex/collabdocs/internal/broadcast"
	"github.com/gogotex/collabdocs/internal/document"
	"github.com/gogotex/collabdocs/internal/document/repository"
	"github.com/gogotex/collabdocs/pkg/logger"
	"github.com/gogotex/collabdocs/pkg/metrics"
	"go.mongodb.org/mongo-driver/mongo"
)

// Service implements the document operations used by the handler layer.
type Service struct {
	store repository.Store
	pub   broadcast.Publisher
}

func New(store repository.Store, pub broadcast.Publisher) *Service {
	if pub == nil {
		pub = broadcast.Nop{}
	}
	return &Service{store: store, pub: pub}
}

// NewMemoryService returns a Service backed by the in-memory store.
func NewMemoryService(pub broadcast.Publisher) *Service {
	return New(repository.NewMemoryStore(), pub)
}

// NewMongoService returns a Service backed by the documents and versions
// collections of db.
func NewMongoService(db *mongo.Database, pub broadcast.Publisher) *Service {
	return New(repository.NewMongoStore(db), pub)
}

func (s *Service) Create(ctx context.Context, title, content string) (*document.Document, error) {
	if err := (document.Fields{Title: &title}).Validate(); err != nil {
		return nil, err
	}
	d := &document.Document{Title: title, Content: content}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Get(ctx context.Context, id string) (*document.Document, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*document.Document, error) {
	return s.store.List(ctx)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Versions returns the archived versions of a live document, newest first.
func (s *Service) Versions(ctx context.Context, id string) ([]*document.Version, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return repository.CollectVersions(s.store.ListVersions(ctx, id))
}

// Update archives the current content when it is non-empty, applies the
// present fields and commits both in one transaction. After the commit the
// new state is published to the document channel, skipping socketID (or all
// of actor's connections when socketID is empty).
//
// When the transaction fails the document as it was before the call is
// returned together with a *document.StorageError.
func (s *Service) Update(ctx context.Context, id string, f document.Fields, actor document.Actor, socketID string) (*document.Document, error) {
	if err := f.Validate(); err != nil {
		metrics.DocumentUpdates.WithLabelValues("invalid").Inc()
		return nil, err
	}

	var prior, updated *document.Document
	archived := false
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		prior, archived = nil, false
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		prior = cur.Clone()

		if cur.Content != "" {
			if _, err := s.store.Archive(ctx, id, cur.Content); err != nil {
				return err
			}
			archived = true
		}

		f.Apply(cur)
		cur.UpdatedAt = time.Now().UTC()
		if err := s.store.Save(ctx, cur); err != nil {
			return err
		}
		updated = cur
		return nil
	})
	if err != nil {
		if errors.Is(err, document.ErrNotFound) && prior == nil {
			metrics.DocumentUpdates.WithLabelValues("not_found").Inc()
			return nil, err
		}
		metrics.DocumentUpdates.WithLabelValues("failed").Inc()
		var se *document.StorageError
		if !errors.As(err, &se) {
			err = &document.StorageError{Op: "update", Err: err}
		}
		logger.Errorf("update document %s by %s: %v", id, actor.ID, err)
		return prior, err
	}

	metrics.DocumentUpdates.WithLabelValues("committed").Inc()
	if archived {
		metrics.VersionsArchived.Inc()
	}

	n := broadcast.DocumentUpdated(actor, updated.Clone(), socketID)
	if err := s.pub.Publish(ctx, n); err != nil {
		var be *broadcast.Error
		if !errors.As(err, &be) {
			err = &broadcast.Error{Channel: n.Channel, Err: err}
		}
		metrics.BroadcastDeliveries.WithLabelValues("failed").Inc()
		logger.Warnf("document %s updated but not broadcast: %v", id, err)
	}
	return updated, nil
}

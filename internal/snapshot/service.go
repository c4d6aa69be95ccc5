package snapshot

import (
	"context"

	"go.uber.org/zap"

	"github.com/cot-reflect/backend/internal/metrics"
	"github.com/cot-reflect/backend/internal/storage/models"
	"github.com/cot-reflect/backend/pkg/apperr"
	"github.com/cot-reflect/backend/pkg/logger"
)

type Store interface {
	CreateSnapshot(ctx context.Context, in models.SnapshotInput) (int64, error)
	ListSnapshots(ctx context.Context, search string) ([]models.SnapshotSummary, error)
	GetSnapshot(ctx context.Context, id int64) (*models.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id int64) error
	AllSnapshots(ctx context.Context) ([]models.Snapshot, error)
}

type Cache interface {
	GetSnapshot(ctx context.Context, id int64) (*models.Snapshot, bool, error)
	SetSnapshot(ctx context.Context, s *models.Snapshot) error
	DeleteSnapshot(ctx context.Context, id int64) error
}

// Service is the snapshot API used by handlers, the CLI and the evaluator.
// The cache is optional and never authoritative: cache errors are logged and
// the store answers instead.
type Service struct {
	store Store
	cache Cache
}

func NewService(store Store, cache Cache) *Service {
	return &Service{store: store, cache: cache}
}

func (s *Service) Create(ctx context.Context, in models.SnapshotInput) (int64, error) {
	id, err := s.store.CreateSnapshot(ctx, in)
	metrics.SnapshotOps.WithLabelValues("create", metrics.Status(err)).Inc()
	if err != nil {
		return 0, err
	}

	logger.Info("Snapshot saved",
		logger.SnapshotID(id),
		logger.Model(in.ModelName),
	)
	return id, nil
}

func (s *Service) List(ctx context.Context, search string) ([]models.SnapshotSummary, error) {
	list, err := s.store.ListSnapshots(ctx, search)
	metrics.SnapshotOps.WithLabelValues("list", metrics.Status(err)).Inc()
	return list, err
}

func (s *Service) Get(ctx context.Context, id int64) (*models.Snapshot, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.GetSnapshot(ctx, id)
		if err != nil {
			logger.Warn("Snapshot cache read failed", logger.SnapshotID(id), zap.Error(err))
		} else if ok {
			metrics.SnapshotOps.WithLabelValues("get", "success").Inc()
			return cached, nil
		}
	}

	snap, err := s.store.GetSnapshot(ctx, id)
	metrics.SnapshotOps.WithLabelValues("get", metrics.Status(err)).Inc()
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.fill(ctx, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// fill caches snap, then confirms the row still exists. A Delete that ran
// between the store read and the cache write has already invalidated, so
// the entry written here would otherwise outlive the row.
func (s *Service) fill(ctx context.Context, snap *models.Snapshot) error {
	if err := s.cache.SetSnapshot(ctx, snap); err != nil {
		logger.Warn("Snapshot cache write failed", logger.SnapshotID(snap.ID), zap.Error(err))
		return nil
	}

	_, err := s.store.GetSnapshot(ctx, snap.ID)
	if err == nil {
		return nil
	}
	if cerr := s.cache.DeleteSnapshot(ctx, snap.ID); cerr != nil {
		logger.Warn("Snapshot cache invalidation failed", logger.SnapshotID(snap.ID), zap.Error(cerr))
	}
	if apperr.IsNotFound(err) {
		return err
	}
	logger.Warn("Snapshot recheck failed", logger.SnapshotID(snap.ID), zap.Error(err))
	return nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.store.DeleteSnapshot(ctx, id)
	metrics.SnapshotOps.WithLabelValues("delete", metrics.Status(err)).Inc()

	// Invalidate even on not-found so a stale entry cannot resurrect the id.
	if s.cache != nil {
		if cerr := s.cache.DeleteSnapshot(ctx, id); cerr != nil {
			logger.Warn("Snapshot cache invalidation failed", logger.SnapshotID(id), zap.Error(cerr))
		}
	}

	if err != nil {
		return err
	}

	logger.Info("Snapshot deleted", logger.SnapshotID(id))
	return nil
}

// Export serializes every snapshot in the given format.
func (s *Service) Export(ctx context.Context, format Format) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	all, err := s.store.AllSnapshots(ctx)
	if err != nil {
		metrics.SnapshotOps.WithLabelValues("export", "error").Inc()
		return nil, err
	}

	data, err := encode(format, all)
	metrics.SnapshotOps.WithLabelValues("export", metrics.Status(err)).Inc()
	if err != nil {
		return nil, err
	}

	logger.Info("Snapshots exported",
		zap.String("format", string(format)),
		zap.Int("count", len(all)),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

// Package api serves read-only deduplication checks over HTTP. It never writes the
// index file; runs stay the single writer.
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"digestbot/deduplication"
	"digestbot/history"
)

// RunLister lists recorded runs, newest first.
type RunLister interface {
	List(ctx context.Context, limit int) ([]history.Run, error)
}

// ServerConfig holds what the API needs to answer requests.
type ServerConfig struct {
	Deduplicator *deduplication.Deduplicator
	IndexPath    string
	// History is optional; without it /api/runs answers 404.
	History RunLister
	Logger  *zerolog.Logger
}

// Server holds an in-memory snapshot of the persisted index.
type Server struct {
	dedup     *deduplication.Deduplicator
	indexPath string
	history   RunLister
	logger    zerolog.Logger

	mu       sync.RWMutex
	snapshot *deduplication.Index
	loadedAt time.Time
}

// NewServer loads the index snapshot. A missing index file is an empty snapshot;
// a corrupt or mismatched one is an error.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Deduplicator == nil {
		return nil, errors.New("deduplicator cannot be nil")
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	s := &Server{
		dedup:     cfg.Deduplicator,
		indexPath: cfg.IndexPath,
		history:   cfg.History,
		logger:    logger,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the snapshot with the index currently on disk. On error the
// previous snapshot stays in place.
func (s *Server) Reload() error {
	enc := s.dedup.Encoder()
	idx, err := deduplication.LoadOrCreate(s.indexPath, enc.Dim(), enc.ModelName())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.snapshot = idx
	s.loadedAt = time.Now().UTC()
	s.mu.Unlock()

	s.logger.Info().Int("index_size", idx.Len()).Str("index", s.indexPath).Msg("index snapshot loaded")
	return nil
}

func (s *Server) current() (*deduplication.Index, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.loadedAt
}

// NewRouter constructs a Gin engine with registered routes.
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	// Minimal middleware: recovery; logger optional to reduce verbosity
	r.Use(gin.Recovery())

	RegisterHealthRoutes(r)
	RegisterDeduplicationRoutes(r, s)
	RegisterRunRoutes(r, s)
	return r
}

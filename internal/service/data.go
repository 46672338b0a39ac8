package service

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/uhi-map/internal/gridstats"
	"github.com/joeblew999/uhi-map/internal/source"
	"github.com/joeblew999/uhi-map/internal/tiler"
)

// VectorLoader loads the vector layers. *source.Loader implements it.
type VectorLoader interface {
	LoadCity(ctx context.Context) (*geojson.FeatureCollection, error)
	LoadGrid(ctx context.Context) (*source.Grid, error)
}

// StatsStore receives the grid statistics whenever they are (re)loaded.
type StatsStore interface {
	LoadGridStats(ctx context.Context, t *gridstats.Table) error
}

// DataService caches the city boundary and the joined grid. Each layer is
// loaded on first use; a failed load is not cached.
type DataService struct {
	loader VectorLoader
	store  StatsStore
	bus    *EventBus
	logger *zap.Logger
	tiles  tiler.Options

	mu       sync.RWMutex
	city     *geojson.FeatureCollection
	grid     *source.Grid
	tiler    *tiler.Tiler
	loadedAt time.Time
}

// NewDataService creates a new data service. store and bus may be nil.
func NewDataService(loader VectorLoader, store StatsStore, bus *EventBus, logger *zap.Logger) *DataService {
	if logger == nil {
		logger = zap.L()
	}
	return &DataService{
		loader: loader,
		store:  store,
		bus:    bus,
		logger: logger.Named("data"),
		tiles:  tiler.DefaultOptions(),
	}
}

// SetTileOptions changes the zoom range of grid tiles. It takes effect on
// the next grid load.
func (s *DataService) SetTileOptions(opts tiler.Options) {
	s.mu.Lock()
	s.tiles = opts
	s.mu.Unlock()
}

// City returns the city boundary.
func (s *DataService) City(ctx context.Context) (*geojson.FeatureCollection, error) {
	s.mu.RLock()
	city := s.city
	s.mu.RUnlock()
	if city != nil {
		return city, nil
	}

	city, err := s.loader.LoadCity(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.city = city
	s.mu.Unlock()
	return city, nil
}

// Grid returns the grid joined with its statistics.
func (s *DataService) Grid(ctx context.Context) (*source.Grid, error) {
	s.mu.RLock()
	grid := s.grid
	s.mu.RUnlock()
	if grid != nil {
		return grid, nil
	}

	grid, err := s.loader.LoadGrid(ctx)
	if err != nil {
		return nil, err
	}
	s.setGrid(ctx, grid)
	return grid, nil
}

// Reload fetches both layers again. A layer that fails to load keeps its
// previous value; the first error is returned.
func (s *DataService) Reload(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		city, err := s.loader.LoadCity(gctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.city = city
		s.mu.Unlock()
		return nil
	})
	g.Go(func() error {
		grid, err := s.loader.LoadGrid(gctx)
		if err != nil {
			return err
		}
		s.setGrid(gctx, grid)
		return nil
	})
	err := g.Wait()

	if s.bus != nil {
		s.bus.Publish(Event{Resource: "data", Action: "reloaded"})
	}
	return err
}

// Tiler returns the vector tiler over the current grid.
func (s *DataService) Tiler(ctx context.Context) (*tiler.Tiler, error) {
	if _, err := s.Grid(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tiler, nil
}

// LoadedAt returns when the grid was last loaded.
func (s *DataService) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

func (s *DataService) setGrid(ctx context.Context, grid *source.Grid) {
	s.mu.Lock()
	opts := s.tiles
	opts.Logger = s.logger
	s.grid = grid
	s.tiler = tiler.New(grid.TileFeatures(), opts)
	s.loadedAt = time.Now()
	s.mu.Unlock()

	if s.store == nil || grid.Table == nil {
		return
	}
	if err := s.store.LoadGridStats(ctx, grid.Table); err != nil {
		s.logger.Warn("grid stats not stored", zap.Error(err))
	}
}

// Package settings owns the measurement-unit preference: CRUD passthrough to the
// store, the single-choice Save used by the settings screen, and change notification.
package settings

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast/internal/models"
	"github.com/kjstillabower/weather-forecast/internal/observability"
	"github.com/kjstillabower/weather-forecast/internal/storage"
	"github.com/kjstillabower/weather-forecast/internal/units"
)

// Service wraps a UnitStore and broadcasts the table contents after every write.
type Service struct {
	store    storage.UnitStore
	fallback units.System
	logger   *zap.Logger

	// writeMu orders a write with its reload so subscribers never end on an older table.
	writeMu sync.Mutex
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan []models.UnitPreference
	last []models.UnitPreference
	sent bool
}

// New creates a Service whose Current falls back to fallback (units.Default when unset)
// while nothing is stored. A nil logger is replaced by a no-op logger.
func New(store storage.UnitStore, fallback units.System, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback != units.Metric && fallback != units.Imperial {
		fallback = units.Default
	}
	return &Service{store: store, fallback: fallback, logger: logger, subs: make(map[*subscriber]struct{})}
}

// Default is the system used while no preference is stored.
func (s *Service) Default() units.System { return s.fallback }

// Units returns every stored preference.
func (s *Service) Units(ctx context.Context) ([]models.UnitPreference, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		s.logger.Debug("no units found")
	}
	return list, nil
}

// Current returns the active unit system, falling back to the default when
// the table is empty or unreadable.
func (s *Service) Current(ctx context.Context) units.System {
	list, err := s.Units(ctx)
	if err != nil {
		s.logger.Warn("read unit preference failed", zap.Error(err))
		return s.fallback
	}
	return units.FromPreferences(list, s.fallback)
}

func (s *Service) Insert(ctx context.Context, p models.UnitPreference) (models.UnitPreference, error) {
	var out models.UnitPreference
	err := s.write(ctx, "insert", func() (err error) {
		out, err = s.store.Insert(ctx, p)
		return err
	})
	return out, err
}

func (s *Service) Update(ctx context.Context, p models.UnitPreference) error {
	return s.write(ctx, "update", func() error { return s.store.Update(ctx, p) })
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.write(ctx, "delete", func() error { return s.store.Delete(ctx, id) })
}

func (s *Service) DeleteAll(ctx context.Context) error {
	return s.write(ctx, "delete_all", func() error { return s.store.DeleteAll(ctx) })
}

// Save makes system the only stored preference, using its display label.
func (s *Service) Save(ctx context.Context, system units.System) (models.UnitPreference, error) {
	var p models.UnitPreference
	err := s.write(ctx, "save", func() (err error) {
		p, err = s.store.Replace(ctx, system.Choice())
		return err
	})
	if err != nil {
		return models.UnitPreference{}, err
	}
	s.logger.Info("unit preference saved", zap.String("unit", p.Unit))
	return p, nil
}

// write runs op, then reloads and broadcasts the table, holding writeMu throughout.
func (s *Service) write(ctx context.Context, op string, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	s.changed(ctx, op)
	return nil
}

// Watch emits the current table contents (empty if unreadable), then the contents after each write
// that changes them. The channel is closed when ctx is done.
func (s *Service) Watch(ctx context.Context) <-chan []models.UnitPreference {
	sub := &subscriber{ch: make(chan []models.UnitPreference, 1)}
	s.writeMu.Lock()
	list, err := s.Units(ctx)
	if err != nil {
		s.logger.Warn("read unit preferences failed", zap.Error(err))
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.deliverLocked(sub, list)
	s.mu.Unlock()
	s.writeMu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, sub)
		close(sub.ch)
		s.mu.Unlock()
	}()
	return sub.ch
}

func (s *Service) changed(ctx context.Context, op string) {
	observability.UnitPreferenceWritesTotal.WithLabelValues(op).Inc()
	list, err := s.Units(ctx)
	if err != nil {
		s.logger.Warn("reload unit preferences failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		s.deliverLocked(sub, list)
	}
}

// deliverLocked skips unchanged lists and replaces an unread value with the newer one.
func (s *Service) deliverLocked(sub *subscriber, list []models.UnitPreference) {
	if sub.sent && slices.Equal(sub.last, list) {
		return
	}
	sub.last, sub.sent = list, true
	select {
	case <-sub.ch:
	default:
	}
	sub.ch <- list
}

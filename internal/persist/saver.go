package persist

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WriteFunc materializes the current state and writes it durably.
type WriteFunc func(ctx context.Context) error

// Saver coalesces save requests into debounced writes. One background
// goroutine owns the timer, so at most one write is ever in flight.
type Saver struct {
	write WriteFunc
	delay time.Duration
	log   zerolog.Logger

	dirty   chan struct{}
	writeMu sync.Mutex

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSaver(write WriteFunc, delay time.Duration, log zerolog.Logger) *Saver {
	return &Saver{
		write: write,
		delay: delay,
		log:   log,
		dirty: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// MarkDirty requests a save. It never blocks; requests made while one is
// already pending are absorbed into it.
func (s *Saver) MarkDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Saver) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.log.Info().Dur("debounce", s.delay).Msg("starting snapshot saver")
		go func() {
			defer close(s.done)
			s.run(ctx)
		}()
	})
}

func (s *Saver) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
		}

		timer := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// requests that arrived during the wait are covered by this write
		select {
		case <-s.dirty:
		default:
		}

		if err := s.Flush(ctx); err != nil {
			s.MarkDirty()
		}
	}
}

// Flush writes immediately, serialized with the background writer.
func (s *Saver) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.write(ctx); err != nil {
		s.log.Error().Err(err).Msg("snapshot write failed")
		return err
	}
	return nil
}

// Stop ends the background loop and performs a final flush. The flush is
// unconditional since relay traffic changes counters without marking dirty.
func (s *Saver) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		select {
		case <-s.dirty:
		default:
		}
		err = s.Flush(ctx)
		s.log.Info().Msg("snapshot saver stopped")
	})
	return err
}

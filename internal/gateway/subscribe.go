package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/supabase"
)

// Unsubscribe detaches a subscription. It is safe to call more than once,
// but not from inside the subscription's own callback. Callbacks must not
// write through the gateway synchronously either; hand the write to another
// goroutine.
type Unsubscribe func()

type fetchFunc[T any] func(ctx context.Context, b Backend) ([]T, error)

// subscription delivers one collection to one callback. Deliveries are
// serialized and every delivery comes from the backend that answered the
// initial fetch.
type subscription[T any] struct {
	g      *Gateway
	table  string
	source Source
	fetch  fetchFunc[T]
	cb     func([]T)

	ctx    context.Context
	cancel context.CancelFunc

	deliverMu sync.Mutex
	closed    bool
	kick      chan struct{}

	stopOnce sync.Once
	stop     func()
}

func subscribe[T any](ctx context.Context, g *Gateway, table, filter string, fetch fetchFunc[T], cb func([]T)) (Unsubscribe, error) {
	items, src, err := attempt(ctx, g, "subscribe_"+table, func(b Backend) ([]T, error) {
		return fetch(ctx, b)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", table, err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &subscription[T]{
		g:      g,
		table:  table,
		source: src,
		fetch:  fetch,
		cb:     cb,
		ctx:    subCtx,
		cancel: cancel,
		kick:   make(chan struct{}, 1),
	}
	s.deliver(items)

	onChange := s.refetchNow
	if src == SourceRemote {
		onChange = s.requestRefetch
		go s.refetchLoop()
	}

	stop, err := g.backend(src).Watch(subCtx, table, filter, func(supabase.Change) { onChange() })
	if err != nil {
		// The initial list was delivered; the subscription just won't see
		// later changes.
		g.log.Warn().Err(err).Str("table", table).Str("source", string(src)).Msg("watch failed, live updates disabled")
		stop = func() {}
	}

	s.deliverMu.Lock()
	s.stop = stop
	closed := s.closed
	s.deliverMu.Unlock()
	if closed {
		stop()
	}
	return s.unsubscribe, nil
}

func (s *subscription[T]) deliver(items []T) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.closed {
		return
	}
	s.cb(items)
}

// refetchNow re-reads synchronously. Used for the local store, whose listeners
// already run one at a time on the mutating goroutine.
func (s *subscription[T]) refetchNow() {
	if s.ctx.Err() != nil {
		return
	}
	items, err := s.fetch(s.ctx, s.g.backend(s.source))
	if err != nil {
		s.g.log.Warn().Err(err).Str("table", s.table).Msg("refetch failed")
		return
	}
	s.deliver(items)
}

// requestRefetch marks the collection dirty. Changes that arrive while a
// refetch is pending collapse into that refetch.
func (s *subscription[T]) requestRefetch() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *subscription[T]) refetchLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.kick:
			s.refetchNow()
		}
	}
}

func (s *subscription[T]) unsubscribe() {
	s.stopOnce.Do(func() {
		s.deliverMu.Lock()
		s.closed = true
		stop := s.stop
		s.deliverMu.Unlock()

		s.cancel()
		if stop != nil {
			stop()
		}
	})
}

// SubscribeBriefs delivers the open briefs now and after every change.
func (g *Gateway) SubscribeBriefs(ctx context.Context, cb func([]models.Brief)) (Unsubscribe, error) {
	return subscribe(ctx, g, "briefs", "", func(ctx context.Context, b Backend) ([]models.Brief, error) {
		return b.Briefs(ctx)
	}, cb)
}

// SubscribeTracks delivers ownerID's library now and after every change.
func (g *Gateway) SubscribeTracks(ctx context.Context, ownerID string, cb func([]models.Track)) (Unsubscribe, error) {
	return subscribe(ctx, g, "tracks", "user_id=eq."+ownerID, func(ctx context.Context, b Backend) ([]models.Track, error) {
		return b.Tracks(ctx, ownerID)
	}, cb)
}

// SubscribeApplications delivers ownerID's applications now and after every
// change.
func (g *Gateway) SubscribeApplications(ctx context.Context, ownerID string, cb func([]models.Application)) (Unsubscribe, error) {
	return subscribe(ctx, g, "applications", "user_id=eq."+ownerID, func(ctx context.Context, b Backend) ([]models.Application, error) {
		return b.Applications(ctx, ownerID)
	}, cb)
}

// SubscribeReceived delivers the applications made to any of briefIDs now and
// after every change.
func (g *Gateway) SubscribeReceived(ctx context.Context, briefIDs []string, cb func([]models.Application)) (Unsubscribe, error) {
	filter := ""
	if len(briefIDs) > 0 {
		filter = "brief_id=in.(" + strings.Join(briefIDs, ",") + ")"
	}
	return subscribe(ctx, g, "applications", filter, func(ctx context.Context, b Backend) ([]models.Application, error) {
		return b.ApplicationsForBriefs(ctx, briefIDs)
	}, cb)
}

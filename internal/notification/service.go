package notification

import (
	"context"
	"errors"
	"sync"

	"gigsync/internal/common"
	"gigsync/internal/logger"
	"gigsync/internal/metrics"
	"gigsync/internal/registry"
	"gigsync/internal/transport"
)

// Service is one user session: it feeds the Store from the push channel and
// REST history, keeps the Registry in step with the channel and routes UI
// intents through the Coordinator.
type Service struct {
	store       *Store
	api         *API
	registry    *registry.Registry
	coordinator *Coordinator
	logger      *logger.Logger

	mu         sync.Mutex
	connects   int
	errSubs    map[int]chan *ReadError
	nextErrSub int
	bg         sync.WaitGroup
}

// NewService creates a session service. Batched read failures are published
// to SubscribeErrors.
func NewService(store *Store, api *API, reg *registry.Registry, cfg CoordinatorConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	s := &Service{
		store:    store,
		api:      api,
		registry: reg,
		logger:   log.WithComponent("notification"),
		errSubs:  make(map[int]chan *ReadError),
	}
	onError := cfg.OnError
	cfg.OnError = func(err *ReadError) {
		s.publishError(err)
		if onError != nil {
			onError(err)
		}
	}
	s.coordinator = NewCoordinator(store, api, cfg, log)
	return s
}

// Start loads the first page of history, serving a cached copy if there is one.
func (s *Service) Start(ctx context.Context) error {
	page, err := s.api.List(ctx, 1, true)
	if err != nil {
		s.logger.Warn("initial load failed", "error", err)
		return err
	}
	s.store.ApplyPage(page.Items, page.Page, page.HasMore)
	return nil
}

// Refresh fetches page from the server, bypassing the cache. A failure leaves
// the Store as it was.
func (s *Service) Refresh(ctx context.Context, page int) error {
	result, err := s.api.List(ctx, page, false)
	if err != nil {
		s.logger.Warn("refresh failed", "page", page, "error", err)
		return err
	}
	s.store.ApplyPage(result.Items, result.Page, result.HasMore)
	return nil
}

// LoadMore fetches the page after the highest one loaded.
func (s *Service) LoadMore(ctx context.Context) error {
	page, _ := s.store.Page()
	return s.Refresh(ctx, page+1)
}

// Open marks id read and returns it, typically so the UI can follow its action URL.
func (s *Service) Open(id string) (Notification, error) {
	if !s.store.Has(id) {
		return Notification{}, common.NewNotFoundError("notification", id)
	}
	s.coordinator.MarkRead(id)
	n, _ := s.store.Get(id)
	return n, nil
}

// MarkRead queues id for the next read batch.
func (s *Service) MarkRead(id string) error {
	if !s.store.Has(id) {
		return common.NewNotFoundError("notification", id)
	}
	s.coordinator.MarkRead(id)
	return nil
}

// MarkAllRead marks everything read immediately.
func (s *Service) MarkAllRead(ctx context.Context) error {
	return s.coordinator.MarkAllRead(ctx)
}

// Delete removes id on the server, then locally.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !s.store.Has(id) {
		return common.NewNotFoundError("notification", id)
	}
	if err := s.api.Delete(ctx, id); err != nil {
		return err
	}
	s.coordinator.Forget(id)
	s.store.Remove(id)
	return nil
}

// Snapshot returns the current Store state.
func (s *Service) Snapshot() Snapshot {
	return s.store.Snapshot()
}

// Subscribe streams Store snapshots; see Store.Subscribe.
func (s *Service) Subscribe() (<-chan Snapshot, func()) {
	return s.store.Subscribe()
}

// Subscriptions lists the channel's topic subscriptions.
func (s *Service) Subscriptions() []registry.Subscription {
	return s.registry.Snapshot()
}

// SetGroups forwards a clan membership change to the Registry.
func (s *Service) SetGroups(ids []string) {
	s.registry.SetGroups(ids)
}

// SubscribeErrors streams read failures that had no caller to return to. A
// full channel drops the error; the Store already shows the rollback.
func (s *Service) SubscribeErrors() (<-chan *ReadError, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *ReadError, 8)
	id := s.nextErrSub
	s.nextErrSub++
	s.errSubs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.errSubs, id)
			close(ch)
		})
	}
}

// Close flushes pending reads and waits for background work. The Store is
// reset afterwards.
func (s *Service) Close() {
	s.coordinator.Close()
	s.bg.Wait()
	s.store.Reset()
}

func (s *Service) publishError(err *ReadError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.errSubs {
		select {
		case ch <- err:
		default:
		}
	}
}

// StatusChanged implements transport.Listener.
func (s *Service) StatusChanged(status transport.Status) {
	s.store.SetConnectionStatus(status)
}

// Connected implements transport.Listener. Subscriptions are rebuilt; after a
// reconnect the first page is refetched to pick up pushes missed meanwhile.
func (s *Service) Connected() {
	s.registry.Connected()

	s.mu.Lock()
	s.connects++
	reconnect := s.connects > 1
	if reconnect {
		s.bg.Add(1)
	}
	s.mu.Unlock()

	if reconnect {
		go func() {
			defer s.bg.Done()
			_ = s.Refresh(context.Background(), 1)
		}()
	}
}

// Disconnected implements transport.Listener.
func (s *Service) Disconnected(err error) {
	s.registry.Disconnected()
	s.logger.Info("push channel disconnected", "error", err)
}

// Acknowledged implements transport.Listener.
func (s *Service) Acknowledged(action transport.Action, topic string) {
	s.registry.Acknowledged(action, topic)
}

// Received implements transport.Listener.
func (s *Service) Received(env transport.Envelope) {
	push, err := DecodePush(env)
	switch {
	case errors.Is(err, ErrUnknownType):
		metrics.PushesApplied.WithLabelValues("ignored").Inc()
		s.logger.Debug("ignoring push", "type", env.Type)
		return
	case err != nil:
		metrics.PushesApplied.WithLabelValues("ignored").Inc()
		s.logger.Warn("malformed push", "type", env.Type, "error", err)
		return
	}
	s.store.ApplyPush(push.Record())
}

var _ transport.Listener = (*Service)(nil)

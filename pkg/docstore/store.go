package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// OperationObserver receives the outcome of every store operation.
type OperationObserver interface {
	ObserveDocstoreOperation(operation string, err error, duration time.Duration)
}

// Store validates paths, normalizes values, publishes change events after
// successful writes and serves live subscriptions on top of a Backend.
type Store struct {
	backend  Backend
	broker   Broker
	logger   *zap.Logger
	observer OperationObserver

	mu       sync.Mutex
	watchers map[uint64]*watcher
	nextID   uint64
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver installs an operation observer, typically a metrics recorder.
func WithObserver(observer OperationObserver) Option {
	return func(s *Store) {
		s.observer = observer
	}
}

// New builds a store. A nil broker falls back to an in-process broker.
func New(backend Backend, broker Broker, opts ...Option) *Store {
	if broker == nil {
		broker = NewLocalBroker()
	}
	s := &Store{
		backend:  backend,
		broker:   broker,
		logger:   zap.NewNop(),
		watchers: make(map[uint64]*watcher),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the broker and begins dispatching change events to
// watchers. It is safe to call more than once.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := s.broker.Subscribe(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("start docstore dispatcher: %w", err)
	}
	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.dispatch(runCtx, events)
	return nil
}

// Close stops dispatching and releases every watcher.
func (s *Store) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	watchers := make([]*watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.started = false
	s.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	return s.broker.Close()
}

func (s *Store) dispatch(ctx context.Context, events <-chan Event) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.notify(event)
		}
	}
}

func (s *Store) notify(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.watchers {
		if w.matches(event) {
			w.wake()
		}
	}
}

// Get reads one document.
func (s *Store) Get(ctx context.Context, path string) (Document, error) {
	if err := ValidatePath(path); err != nil {
		return Document{}, err
	}
	start := time.Now()
	doc, err := s.backend.Get(ctx, path)
	s.observe("get", err, start)
	return doc, err
}

// Create writes data at path only if no document exists there.
func (s *Store) Create(ctx context.Context, path string, data map[string]interface{}) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	normalized, err := normalize(data)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.backend.Create(ctx, path, normalized)
	s.observe("create", err, start)
	if err != nil {
		return err
	}
	s.publish(ctx, path)
	return nil
}

// Set overwrites or merges data at path.
func (s *Store) Set(ctx context.Context, path string, data map[string]interface{}, opts WriteOptions) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	normalized, err := normalize(data)
	if err != nil {
		return err
	}
	if opts.If != nil {
		expected, err := normalizeValue(opts.If.Equals)
		if err != nil {
			return err
		}
		opts.If = &Precondition{Field: opts.If.Field, Equals: expected}
	}
	start := time.Now()
	err = s.backend.Set(ctx, path, normalized, opts)
	s.observe("set", err, start)
	if err != nil {
		return err
	}
	s.publish(ctx, path)
	return nil
}

// List returns every document directly inside collection, ordered by path.
func (s *Store) List(ctx context.Context, collection string) ([]Document, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: empty collection", ErrInvalidPath)
	}
	start := time.Now()
	docs, err := s.backend.List(ctx, collection)
	s.observe("list", err, start)
	return docs, err
}

// WatchDocument emits the document at path now and after every change. A nil
// document means it does not exist. Read failures go to onError and the
// subscription stays active.
func (s *Store) WatchDocument(ctx context.Context, path string, onNext func(*Document), onError func(error)) Unsubscribe {
	if err := ValidatePath(path); err != nil {
		safeError(onError, err)
		return func() {}
	}
	return s.watch(ctx, path, false, func(readCtx context.Context) error {
		doc, err := s.Get(readCtx, path)
		if readCtx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			onNext(nil)
			return nil
		}
		if err != nil {
			return err
		}
		onNext(&doc)
		return nil
	}, onError)
}

// WatchCollection emits the full collection now and after every change to one of its documents.
func (s *Store) WatchCollection(ctx context.Context, collection string, onNext func([]Document), onError func(error)) Unsubscribe {
	return s.watch(ctx, collection, true, func(readCtx context.Context) error {
		docs, err := s.List(readCtx, collection)
		if readCtx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		onNext(docs)
		return nil
	}, onError)
}

func (s *Store) watch(ctx context.Context, target string, collection bool, read func(context.Context) error, onError func(error)) Unsubscribe {
	if err := s.Start(ctx); err != nil {
		s.logger.Warn("docstore dispatcher unavailable, subscription will not receive updates", zap.Error(err))
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &watcher{
		target:     target,
		collection: collection,
		kick:       make(chan struct{}, 1),
		cancel:     cancel,
	}

	s.mu.Lock()
	w.id = s.nextID
	s.nextID++
	s.watchers[w.id] = w
	s.mu.Unlock()

	go w.run(watchCtx, func(readCtx context.Context) {
		if err := read(readCtx); err != nil && !w.stopped.Load() && readCtx.Err() == nil {
			s.logger.Debug("subscription read failed", zap.String("target", target), zap.Error(err))
			safeError(onError, err)
		}
	})

	return func() {
		w.stop()
		s.mu.Lock()
		delete(s.watchers, w.id)
		s.mu.Unlock()
	}
}

func (s *Store) publish(ctx context.Context, path string) {
	event := Event{Path: path, Collection: Parent(path)}
	if err := s.broker.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("publish change event failed", zap.String("path", path), zap.Error(err))
	}
}

func (s *Store) observe(operation string, err error, start time.Time) {
	if s.observer == nil {
		return
	}
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	s.observer.ObserveDocstoreOperation(operation, err, time.Since(start))
}

// WatcherCount reports the number of live subscriptions.
func (s *Store) WatcherCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

type watcher struct {
	id         uint64
	target     string
	collection bool
	kick       chan struct{}
	cancel     context.CancelFunc
	stopped    atomic.Bool
}

func (w *watcher) matches(event Event) bool {
	if w.collection {
		return event.Collection == w.target
	}
	return event.Path == w.target
}

// wake coalesces pending notifications; the next read observes every write so far.
func (w *watcher) wake() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *watcher) run(ctx context.Context, emit func(context.Context)) {
	emit(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			if w.stopped.Load() {
				return
			}
			emit(ctx)
		}
	}
}

func (w *watcher) stop() {
	if w.stopped.CompareAndSwap(false, true) {
		w.cancel()
	}
}

func safeError(onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
}

package externaltask

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/external-task-worker/internal/engine"
	"github.com/kjstillabower/external-task-worker/internal/lifecycle"
	"github.com/kjstillabower/external-task-worker/internal/observability"
)

const (
	DefaultMaxTasks     = 10
	DefaultLockDuration = 20 * time.Second
)

var ErrInvalidClient = errors.New("external task client: invalid configuration")

// ClientBuilder configures a Client. The zero value is not usable; call NewClientBuilder.
type ClientBuilder struct {
	baseURL                string
	workerID               string
	maxTasks               int
	usePriority            bool
	serializationFormat    string
	dateFormat             string
	asyncResponseTimeout   time.Duration
	lockDuration           time.Duration
	disableAutoFetching    bool
	disableBackoffStrategy bool
	backoffStrategy        BackoffStrategy
	username               string
	password               string
	engine                 engine.API
	logger                 *zap.Logger
}

// NewClientBuilder returns a builder with the engine defaults.
func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{
		maxTasks:            DefaultMaxTasks,
		usePriority:         true,
		serializationFormat: SerializationFormatJSON,
		dateFormat:          DefaultDateFormat,
		lockDuration:        DefaultLockDuration,
	}
}

// BaseURL is the engine REST root, e.g. http://localhost:8080/engine-rest.
func (b *ClientBuilder) BaseURL(url string) *ClientBuilder {
	b.baseURL = url
	return b
}

func (b *ClientBuilder) WorkerID(id string) *ClientBuilder {
	b.workerID = id
	return b
}

func (b *ClientBuilder) MaxTasks(n int) *ClientBuilder {
	b.maxTasks = n
	return b
}

func (b *ClientBuilder) UsePriority(use bool) *ClientBuilder {
	b.usePriority = use
	return b
}

func (b *ClientBuilder) DefaultSerializationFormat(format string) *ClientBuilder {
	b.serializationFormat = format
	return b
}

// DateFormat is a Go time layout used for Date variables and lock expiration times.
func (b *ClientBuilder) DateFormat(layout string) *ClientBuilder {
	b.dateFormat = layout
	return b
}

// AsyncResponseTimeout enables long polling on fetchAndLock. Zero disables it.
func (b *ClientBuilder) AsyncResponseTimeout(d time.Duration) *ClientBuilder {
	b.asyncResponseTimeout = d
	return b
}

// LockDuration is used by subscriptions that do not set their own.
func (b *ClientBuilder) LockDuration(d time.Duration) *ClientBuilder {
	b.lockDuration = d
	return b
}

func (b *ClientBuilder) DisableAutoFetching() *ClientBuilder {
	b.disableAutoFetching = true
	return b
}

func (b *ClientBuilder) DisableBackoffStrategy() *ClientBuilder {
	b.disableBackoffStrategy = true
	return b
}

func (b *ClientBuilder) BackoffStrategy(s BackoffStrategy) *ClientBuilder {
	b.backoffStrategy = s
	return b
}

// BasicAuth is used when Build creates the engine client itself.
func (b *ClientBuilder) BasicAuth(username, password string) *ClientBuilder {
	b.username = username
	b.password = password
	return b
}

// Engine sets a preconfigured engine client (retries, circuit breaker, rate limit).
func (b *ClientBuilder) Engine(api engine.API) *ClientBuilder {
	b.engine = api
	return b
}

func (b *ClientBuilder) Logger(logger *zap.Logger) *ClientBuilder {
	b.logger = logger
	return b
}

// Build validates the configuration and returns a stopped client.
func (b *ClientBuilder) Build() (*Client, error) {
	baseURL := b.baseURL
	if baseURL == "" && b.engine != nil {
		baseURL = b.engine.BaseURL()
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidClient)
	}
	if b.maxTasks <= 0 {
		return nil, fmt.Errorf("%w: max tasks must be positive, got %d", ErrInvalidClient, b.maxTasks)
	}
	if b.lockDuration <= 0 {
		return nil, fmt.Errorf("%w: lock duration must be positive, got %s", ErrInvalidClient, b.lockDuration)
	}
	if b.asyncResponseTimeout < 0 {
		return nil, fmt.Errorf("%w: async response timeout must not be negative, got %s", ErrInvalidClient, b.asyncResponseTimeout)
	}
	if b.serializationFormat != "" && b.serializationFormat != SerializationFormatJSON {
		return nil, fmt.Errorf("%w: unsupported serialization format %q", ErrInvalidClient, b.serializationFormat)
	}

	logger := observability.Named(b.logger, "externaltask")

	api := b.engine
	if api == nil {
		c, err := engine.New(engine.Options{
			BaseURL:  baseURL,
			Username: b.username,
			Password: b.password,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		api = c
	}

	workerID := b.workerID
	if workerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		workerID = host + uuid.NewString()
	}

	var strategy BackoffStrategy
	switch {
	case b.disableBackoffStrategy:
		strategy = noBackoff{}
	case b.backoffStrategy != nil:
		strategy = b.backoffStrategy
	default:
		strategy = NewExponentialBackoff(0, 0, 0)
	}

	c := &Client{
		engine:               api,
		baseURL:              baseURL,
		workerID:             workerID,
		maxTasks:             b.maxTasks,
		usePriority:          b.usePriority,
		asyncResponseTimeout: b.asyncResponseTimeout,
		lockDuration:         b.lockDuration,
		autoFetching:         !b.disableAutoFetching,
		backoff:              strategy,
		codec:                variableCodec{dateFormat: b.dateFormat, serializationFormat: b.serializationFormat},
		logger:               logger,
		inFlight:             &lifecycle.InFlightTracker{},
		subs:                 make(map[string]TopicSubscription),
		wake:                 make(chan struct{}, 1),
	}
	c.service = &taskService{engine: api, workerID: workerID, codec: c.codec}
	return c, nil
}

// Client holds topic subscriptions and, once started, polls the engine and
// dispatches locked tasks to the subscription handlers.
type Client struct {
	engine               engine.API
	baseURL              string
	workerID             string
	maxTasks             int
	usePriority          bool
	asyncResponseTimeout time.Duration
	lockDuration         time.Duration
	autoFetching         bool
	backoff              BackoffStrategy
	codec                variableCodec
	service              *taskService
	logger               *zap.Logger
	inFlight             *lifecycle.InFlightTracker

	mu    sync.RWMutex
	subs  map[string]TopicSubscription
	order []string
	wake  chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *Client) WorkerID() string { return c.workerID }

func (c *Client) BaseURL() string { return c.baseURL }

// LockDuration is the default applied to subscriptions without their own.
func (c *Client) LockDuration() time.Duration { return c.lockDuration }

// AutoFetching reports whether the owner should Start the client once
// subscriptions are registered.
func (c *Client) AutoFetching() bool { return c.autoFetching }

// TaskService returns the service handed to handlers.
func (c *Client) TaskService() TaskService { return c.service }

// InFlight tracks handler executions; shutdown waits on it.
func (c *Client) InFlight() *lifecycle.InFlightTracker { return c.inFlight }

// Subscribe starts building a subscription for topic.
func (c *Client) Subscribe(topic string) *TopicSubscriptionBuilder {
	return &TopicSubscriptionBuilder{client: c, sub: TopicSubscription{TopicName: topic}}
}

func (c *Client) register(sub TopicSubscription) error {
	c.mu.Lock()
	if _, exists := c.subs[sub.TopicName]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateTopic, sub.TopicName)
	}
	c.subs[sub.TopicName] = sub
	c.order = append(c.order, sub.TopicName)
	c.mu.Unlock()

	observability.ActiveSubscriptions.Inc()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Unsubscribe closes the subscription for topic.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[topic]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	delete(c.subs, topic)
	for i, name := range c.order {
		if name == topic {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	observability.ActiveSubscriptions.Dec()
	return nil
}

// Subscriptions returns the open subscriptions in registration order.
func (c *Client) Subscriptions() []TopicSubscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TopicSubscription, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.subs[name].clone())
	}
	return out
}

// Subscription looks up the open subscription for topic.
func (c *Client) Subscription(topic string) (TopicSubscription, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sub, ok := c.subs[topic]
	if !ok {
		return TopicSubscription{}, false
	}
	return sub.clone(), true
}

// Start launches the poll loop. Calling Start on an active client is a no-op.
func (c *Client) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.logger.Info("External task client started",
		zap.String("workerId", c.workerID),
		zap.String("baseUrl", c.baseURL),
	)
	go c.run(loopCtx, c.done)
}

// Stop ends polling and blocks until the task being handled, if any, returns.
func (c *Client) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Info("External task client stopped", zap.String("workerId", c.workerID))
}

// IsActive reports whether the poll loop is running.
func (c *Client) IsActive() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

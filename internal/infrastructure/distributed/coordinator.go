package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/loadbalancer"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/monitoring"
	"github.com/verawat1234/tchat-sub013/pkg/cache"
	"github.com/verawat1234/tchat-sub013/pkg/tracing"
)

type CoordinatorConfig struct {
	ServerID          string
	Address           string
	Capacity          int64
	HeartbeatInterval time.Duration
	HealthTimeout     time.Duration
	KeyTTL            time.Duration
	// StaleAfter bounds how long a cached record is served without a refresh.
	StaleAfter    time.Duration
	OverloadRatio float64
}

func DefaultCoordinatorConfig(serverID string) CoordinatorConfig {
	return CoordinatorConfig{
		ServerID:          serverID,
		Capacity:          1000,
		HeartbeatInterval: 10 * time.Second,
		HealthTimeout:     30 * time.Second,
		KeyTTL:            time.Hour,
		StaleAfter:        30 * time.Second,
		OverloadRatio:     0.8,
	}
}

// CachedCount is a viewer count as last observed by this node.
type CachedCount struct {
	Count    int64
	LastSeen time.Time
}

// Coordinator shares viewer counts and server load across the cluster and
// places streams on servers. The shared store is the source of truth; the
// local caches are advisory.
type Coordinator struct {
	cfg      CoordinatorConfig
	state    ports.SharedState
	registry *ServerRegistry
	bus      *EventBus
	servers  *cache.Cache[domain.ServerNode]
	viewers  *cache.Cache[int64]
	load     atomic.Int64
	metrics  *monitoring.PrometheusCollector
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewCoordinator(cfg CoordinatorConfig, state ports.SharedState, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		state:    state,
		registry: NewServerRegistry(state, cfg.KeyTTL),
		bus:      NewEventBus(state, cfg.ServerID, logger),
		metrics:  metrics,
		logger:   logger.With("server_id", cfg.ServerID),
		now:      time.Now,
	}
	clock := func() time.Time { return c.now() }
	c.servers = cache.New[domain.ServerNode](cfg.StaleAfter, cache.WithClock[domain.ServerNode](clock))
	c.viewers = cache.New[int64](cfg.StaleAfter, cache.WithClock[int64](clock))
	return c
}

func (c *Coordinator) ServerID() string {
	return c.cfg.ServerID
}

func (c *Coordinator) self() domain.ServerNode {
	now := c.now()
	return domain.ServerNode{
		ID:            c.cfg.ServerID,
		Address:       c.cfg.Address,
		Capacity:      c.cfg.Capacity,
		Load:          c.load.Load(),
		LastHeartbeat: now,
		LastSeen:      now,
	}
}

func (c *Coordinator) RegisterServer(ctx context.Context) error {
	if err := c.Heartbeat(ctx); err != nil {
		return fmt.Errorf("register server %s: %w", c.cfg.ServerID, err)
	}
	c.logger.Infow("server registered", "capacity", c.cfg.Capacity, "address", c.cfg.Address)
	return nil
}

func (c *Coordinator) UnregisterServer(ctx context.Context) error {
	if err := c.registry.Remove(ctx, c.cfg.ServerID); err != nil {
		return fmt.Errorf("unregister server %s: %w", c.cfg.ServerID, err)
	}
	c.servers.Delete(c.cfg.ServerID)
	if err := c.bus.Publish(ctx, ControlChannel, EventServerLeft, "", map[string]string{"server_id": c.cfg.ServerID}); err != nil {
		c.logger.Warnw("failed to announce server leave", "error", err)
	}
	c.logger.Info("server unregistered")
	return nil
}

// Heartbeat refreshes this server's keys and announces its health.
func (c *Coordinator) Heartbeat(ctx context.Context) error {
	node := c.self()
	if err := c.registry.Put(ctx, node); err != nil {
		return err
	}
	c.servers.Set(node.ID, node)
	c.metrics.RecordHeartbeat()
	return c.publish(ctx, HealthChannel(node.ID), EventServerHealth, "", node)
}

func (c *Coordinator) PublishViewerJoin(ctx context.Context, streamID domain.StreamID, viewerID domain.UserID) error {
	c.viewers.Update(string(streamID), func(v int64, _ bool) int64 { return v + 1 })

	n, err := c.state.Incr(ctx, viewersKey(streamID))
	if err != nil {
		return fmt.Errorf("increment viewers for %s: %w", streamID, err)
	}
	c.viewers.Set(string(streamID), n)
	c.metrics.SetViewers(streamID, n)

	c.load.Add(1)
	if _, err := c.registry.IncrLoad(ctx, c.cfg.ServerID); err != nil {
		c.logger.Warnw("failed to increment server load", "error", err)
	}

	return c.publishViewerEvent(ctx, domain.ViewerJoined, streamID, viewerID, n)
}

func (c *Coordinator) PublishViewerLeave(ctx context.Context, streamID domain.StreamID, viewerID domain.UserID) error {
	c.viewers.Update(string(streamID), func(v int64, _ bool) int64 {
		if v > 0 {
			return v - 1
		}
		return 0
	})

	n, err := c.state.DecrFloor(ctx, viewersKey(streamID))
	if err != nil {
		return fmt.Errorf("decrement viewers for %s: %w", streamID, err)
	}
	c.viewers.Set(string(streamID), n)
	c.metrics.SetViewers(streamID, n)

	for {
		cur := c.load.Load()
		if cur <= 0 || c.load.CompareAndSwap(cur, cur-1) {
			break
		}
	}
	if _, err := c.registry.DecrLoad(ctx, c.cfg.ServerID); err != nil {
		c.logger.Warnw("failed to decrement server load", "error", err)
	}

	return c.publishViewerEvent(ctx, domain.ViewerLeft, streamID, viewerID, n)
}

func (c *Coordinator) publishViewerEvent(ctx context.Context, t domain.ViewerEventType, streamID domain.StreamID, viewerID domain.UserID, count int64) error {
	eventType := EventViewerJoined
	if t == domain.ViewerLeft {
		eventType = EventViewerLeft
	}
	return c.publish(ctx, StreamChannel(streamID), eventType, streamID, domain.ViewerEvent{
		Type:        t,
		StreamID:    streamID,
		ViewerID:    viewerID,
		ServerID:    c.cfg.ServerID,
		ViewerCount: count,
		Timestamp:   c.now(),
	})
}

// publish sends an event on its own channel and mirrors it on the control
// channel. Receivers apply both copies idempotently.
func (c *Coordinator) publish(ctx context.Context, channel string, eventType EventType, streamID domain.StreamID, payload any) error {
	err := c.bus.Publish(ctx, channel, eventType, streamID, payload)
	if ctrlErr := c.bus.Publish(ctx, ControlChannel, eventType, streamID, payload); ctrlErr != nil {
		err = errors.Join(err, ctrlErr)
	}
	return err
}

// ViewerCount reads the shared counter.
func (c *Coordinator) ViewerCount(ctx context.Context, streamID domain.StreamID) (int64, error) {
	v, ok, err := c.state.Get(ctx, viewersKey(streamID))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad viewer count for %s: %w", streamID, err)
	}
	c.viewers.Set(string(streamID), n)
	return n, nil
}

// CachedViewerCount returns the local view, which may lag the shared store
// by up to StaleAfter.
func (c *Coordinator) CachedViewerCount(streamID domain.StreamID) (CachedCount, bool) {
	item, ok := c.viewers.Lookup(string(streamID))
	if !ok {
		return CachedCount{}, false
	}
	return CachedCount{Count: item.Value, LastSeen: item.StoredAt}, true
}

// Servers returns the cached cluster view with LastSeen set to when each
// record was last refreshed.
func (c *Coordinator) Servers() []domain.ServerNode {
	items := c.servers.Items("")
	out := make([]domain.ServerNode, 0, len(items))
	for _, item := range items {
		node := item.Value
		node.LastSeen = item.StoredAt
		out = append(out, node)
	}
	sortNodes(out)
	return out
}

// SelectServer picks the server that should host streamID. Eligible servers
// have a fresh heartbeat and spare capacity; among them the stream hashes to
// a preferred owner, falling back to the least-loaded server when the owner
// is at or above the overload ratio.
func (c *Coordinator) SelectServer(ctx context.Context, streamID domain.StreamID) (domain.ServerNode, error) {
	ctx, span := tracing.TraceCluster(ctx, "select_server", c.cfg.ServerID, string(streamID))
	defer span.End()

	nodes, err := c.registry.List(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.ServerNode{}, err
	}

	now := c.now()
	byID := make(map[string]domain.ServerNode, len(nodes))
	ids := make([]string, 0, len(nodes))
	for _, node := range nodes {
		node.LastSeen = now
		c.servers.Set(node.ID, node)
		if !node.Healthy(now, c.cfg.HealthTimeout) || node.Load >= node.Capacity {
			continue
		}
		byID[node.ID] = node
		ids = append(ids, node.ID)
	}
	if len(ids) == 0 {
		c.metrics.RecordPlacement("none")
		return domain.ServerNode{}, domain.ErrNoHealthyServers
	}

	owner := byID[loadbalancer.NewConsistentHash(ids).GetInstance(string(streamID))]
	if float64(owner.Load) < c.cfg.OverloadRatio*float64(owner.Capacity) {
		c.metrics.RecordPlacement("hashed")
		return owner, nil
	}

	best := owner
	for _, id := range ids {
		node := byID[id]
		if node.Load < best.Load || (node.Load == best.Load && node.ID < best.ID) {
			best = node
		}
	}
	c.logger.Debugw("hashed server overloaded, using least loaded",
		"stream_id", streamID,
		"hashed", owner.ID,
		"selected", best.ID,
	)
	c.metrics.RecordPlacement("fallback")
	return best, nil
}

// Run heartbeats and consumes cluster events until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := c.Heartbeat(ctx); err != nil && ctx.Err() == nil {
					c.logger.Warnw("heartbeat failed", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		err := c.bus.Subscribe(ctx, c.handleEvent,
			StreamChannel("*"),
			HealthChannel("*"),
			ControlChannel,
		)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		return err
	})

	interval := c.cfg.StaleAfter
	if interval <= 0 {
		interval = time.Minute
	}
	g.Go(func() error {
		c.servers.Janitor(ctx, interval)
		return nil
	})
	g.Go(func() error {
		c.viewers.Janitor(ctx, interval)
		return nil
	})

	return g.Wait()
}

func (c *Coordinator) handleEvent(channel string, event *Event) error {
	switch event.Type {
	case EventViewerJoined, EventViewerLeft:
		var ve domain.ViewerEvent
		if err := json.Unmarshal(event.Payload, &ve); err != nil {
			return err
		}
		c.viewers.Set(string(ve.StreamID), ve.ViewerCount)
		c.metrics.SetViewers(ve.StreamID, ve.ViewerCount)

	case EventServerHealth:
		var node domain.ServerNode
		if err := json.Unmarshal(event.Payload, &node); err != nil {
			return err
		}
		node.LastSeen = c.now()
		c.servers.Set(node.ID, node)

	case EventServerLeft:
		var body struct {
			ServerID string `json:"server_id"`
		}
		if err := json.Unmarshal(event.Payload, &body); err != nil {
			return err
		}
		c.servers.Delete(body.ServerID)

	default:
		c.logger.Debugw("ignoring cluster event", "channel", channel, "type", event.Type)
	}
	return nil
}

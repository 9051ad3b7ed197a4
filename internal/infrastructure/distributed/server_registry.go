package distributed

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"
)

const (
	serversKey = "live:servers"
	keyPrefix  = "live:"
)

func serverKey(id, field string) string {
	return keyPrefix + "server:" + id + ":" + field
}

func viewersKey(id domain.StreamID) string {
	return keyPrefix + "stream:" + string(id) + ":viewers"
}

// ServerRegistry is the shared-store view of cluster membership.
type ServerRegistry struct {
	state  ports.SharedState
	keyTTL time.Duration
}

func NewServerRegistry(state ports.SharedState, keyTTL time.Duration) *ServerRegistry {
	return &ServerRegistry{state: state, keyTTL: keyTTL}
}

// Put writes capacity, load and heartbeat for node and adds it to the set.
func (r *ServerRegistry) Put(ctx context.Context, node domain.ServerNode) error {
	if err := r.state.Set(ctx, serverKey(node.ID, "capacity"), strconv.FormatInt(node.Capacity, 10), r.keyTTL); err != nil {
		return fmt.Errorf("failed to set capacity: %w", err)
	}
	if err := r.state.Set(ctx, serverKey(node.ID, "load"), strconv.FormatInt(node.Load, 10), r.keyTTL); err != nil {
		return fmt.Errorf("failed to set load: %w", err)
	}
	if node.Address != "" {
		if err := r.state.Set(ctx, serverKey(node.ID, "address"), node.Address, r.keyTTL); err != nil {
			return fmt.Errorf("failed to set address: %w", err)
		}
	}
	hb := strconv.FormatInt(node.LastHeartbeat.UnixMilli(), 10)
	if err := r.state.Set(ctx, serverKey(node.ID, "heartbeat"), hb, r.keyTTL); err != nil {
		return fmt.Errorf("failed to set heartbeat: %w", err)
	}
	return r.state.SetAdd(ctx, serversKey, node.ID)
}

func (r *ServerRegistry) Remove(ctx context.Context, id string) error {
	if err := r.state.SetRemove(ctx, serversKey, id); err != nil {
		return err
	}
	return r.state.Del(ctx,
		serverKey(id, "capacity"),
		serverKey(id, "load"),
		serverKey(id, "address"),
		serverKey(id, "heartbeat"),
	)
}

func (r *ServerRegistry) IncrLoad(ctx context.Context, id string) (int64, error) {
	return r.state.Incr(ctx, serverKey(id, "load"))
}

func (r *ServerRegistry) DecrLoad(ctx context.Context, id string) (int64, error) {
	return r.state.DecrFloor(ctx, serverKey(id, "load"))
}

// Get reads one node. ok is false once its heartbeat key has expired.
func (r *ServerRegistry) Get(ctx context.Context, id string) (domain.ServerNode, bool, error) {
	node := domain.ServerNode{ID: id}

	hb, ok, err := r.state.Get(ctx, serverKey(id, "heartbeat"))
	if err != nil || !ok {
		return node, false, err
	}
	ms, err := strconv.ParseInt(hb, 10, 64)
	if err != nil {
		return node, false, fmt.Errorf("bad heartbeat for %s: %w", id, err)
	}
	node.LastHeartbeat = time.UnixMilli(ms)

	if node.Capacity, err = r.readInt(ctx, serverKey(id, "capacity")); err != nil {
		return node, false, err
	}
	if node.Load, err = r.readInt(ctx, serverKey(id, "load")); err != nil {
		return node, false, err
	}
	if node.Address, _, err = r.state.Get(ctx, serverKey(id, "address")); err != nil {
		return node, false, err
	}
	return node, true, nil
}

// List returns every registered node sorted by ID and drops members whose
// keys have expired.
func (r *ServerRegistry) List(ctx context.Context) ([]domain.ServerNode, error) {
	ids, err := r.state.SetMembers(ctx, serversKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	sort.Strings(ids)

	nodes := make([]domain.ServerNode, 0, len(ids))
	for _, id := range ids {
		node, ok, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			_ = r.state.SetRemove(ctx, serversKey, id)
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (r *ServerRegistry) readInt(ctx context.Context, key string) (int64, error) {
	v, ok, err := r.state.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad integer at %s: %w", key, err)
	}
	return n, nil
}

func sortNodes(nodes []domain.ServerNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

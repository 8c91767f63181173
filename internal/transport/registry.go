package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/cascade/internal/logfields"
)

// AgentInfo is the presence record an agent keeps in the registry.
type AgentInfo struct {
	Name      string    `cbor:"name"`
	Hostname  string    `cbor:"hostname,omitempty"`
	Version   string    `cbor:"version,omitempty"`
	StartedAt time.Time `cbor:"started_at"`
	Heartbeat time.Time `cbor:"heartbeat"`
	Running   int       `cbor:"running"`
}

// Stale reports whether the agent missed heartbeats for longer than maxAge.
func (a AgentInfo) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(a.Heartbeat) > maxAge
}

// Registry is the JetStream key-value bucket agents announce themselves in.
type Registry struct {
	kv jetstream.KeyValue
}

// OpenRegistry gets or creates the agent bucket.
func OpenRegistry(ctx context.Context, nc *nats.Conn, subjects Subjects) (*Registry, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, ErrRegistryFailed.WithCause(err)
	}

	bucket := subjects.Bucket()
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return &Registry{kv: kv}, nil
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "cascade build agents",
		History:     1,
	})
	if err != nil {
		return nil, ErrRegistryFailed.WithCause(err).WithContext("bucket", bucket)
	}
	slog.Info("Created agent registry bucket", "bucket", bucket)
	return &Registry{kv: kv}, nil
}

// Register stores or refreshes info.
func (r *Registry) Register(ctx context.Context, info AgentInfo) error {
	data, err := Marshal(info)
	if err != nil {
		return ErrEncode.WithCause(err)
	}
	if _, err := r.kv.Put(ctx, token(info.Name), data); err != nil {
		return ErrRegistryFailed.WithCause(err).WithContext("agent", info.Name)
	}
	return nil
}

// Deregister removes an agent.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	if err := r.kv.Delete(ctx, token(name)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return ErrRegistryFailed.WithCause(err).WithContext("agent", name)
	}
	return nil
}

// Lookup returns the record of name, or nil when it is not registered.
func (r *Registry) Lookup(ctx context.Context, name string) (*AgentInfo, error) {
	entry, err := r.kv.Get(ctx, token(name))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, ErrRegistryFailed.WithCause(err).WithContext("agent", name)
	}
	var info AgentInfo
	if err := Unmarshal(entry.Value(), &info); err != nil {
		return nil, ErrDecode.WithCause(err).WithContext("agent", name)
	}
	return &info, nil
}

// List returns every registered agent.
func (r *Registry) List(ctx context.Context) ([]AgentInfo, error) {
	lister, err := r.kv.ListKeys(ctx)
	if err != nil {
		return nil, ErrRegistryFailed.WithCause(err)
	}
	defer func() { _ = lister.Stop() }()

	var agents []AgentInfo
	for key := range lister.Keys() {
		info, err := r.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if info != nil {
			agents = append(agents, *info)
		}
	}
	return agents, nil
}

// Heartbeat re-registers info every interval until ctx is done, then
// deregisters it. running reports the current number of builds.
func (r *Registry) Heartbeat(ctx context.Context, info AgentInfo, interval time.Duration, running func() int) {
	beat := func() {
		info.Heartbeat = time.Now()
		if running != nil {
			info.Running = running()
		}
		if err := r.Register(ctx, info); err != nil {
			slog.Warn("Agent heartbeat failed", logfields.Agent(info.Name), logfields.Error(err))
		}
	}

	beat()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := r.Deregister(dctx, info.Name); err != nil {
				slog.Warn("Agent deregistration failed", logfields.Agent(info.Name), logfields.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			beat()
		}
	}
}

package changesource

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MiMillieuh/proton-drive-sync/internal/store"
)

// Batch is a clock-tagged set of raw files handed to the normalizer (G)
// for a single watch root (spec §4.6, §4.7).
type Batch struct {
	WatchRoot string
	Files     []File
	Clock     string
}

// Adapter drives the change-source connection: registering watch roots,
// resuming from persisted clocks, and delivering batches either via a
// one-shot query sweep or a live subscription (spec §4.6).
//
// The clock for a batch is deliberately NOT persisted here: spec §5
// requires clock writes to happen only after the enqueue of every event
// in that batch, so a crash between the two can't silently drop events
// on restart. The adapter only reads the resume clock (Get); writing the
// advanced clock back is the normalizer's job, done from Flush once the
// batch's events have actually reached the job store.
type Adapter struct {
	client *Client
	clocks store.ClockStore
	log    *slog.Logger

	mu           sync.Mutex
	subToRoot    map[string]string
	canSubscribe bool
}

// NewAdapter constructs an Adapter over an already-dialed Client.
func NewAdapter(client *Client, clocks store.ClockStore, log *slog.Logger) *Adapter {
	return &Adapter{
		client:    client,
		clocks:    clocks,
		log:       log,
		subToRoot: map[string]string{},
	}
}

// Negotiate performs the version handshake and records whether
// subscription mode is available, degrading to one-shot-only against an
// old service (spec §4.6 expansion).
func (a *Adapter) Negotiate(ctx context.Context) error {
	version, ok, err := a.client.Handshake(ctx)
	if err != nil {
		return fmt.Errorf("changesource: handshake: %w", err)
	}
	a.canSubscribe = ok
	if !ok {
		a.log.Warn("file-change service protocol too old for subscriptions, degrading to one-shot-only", "version", version, "min", MinProtocolVersion)
	}
	return nil
}

// CanSubscribe reports whether Negotiate found a service new enough to
// run subscription mode.
func (a *Adapter) CanSubscribe() bool { return a.canSubscribe }

// OneShotSweep queries every watch root concurrently (spec §4.6: "All
// watch roots are queried concurrently; there is no cross-root ordering
// requirement") and returns one Batch per root. A failure on one root
// does not prevent the others from completing.
func (a *Adapter) OneShotSweep(ctx context.Context, watchRoots []string) ([]Batch, error) {
	batches := make([]Batch, len(watchRoots))
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range watchRoots {
		i, root := i, root
		g.Go(func() error {
			b, err := a.queryRoot(gctx, root)
			if err != nil {
				a.log.Error("one-shot query failed", "watch_root", root, "error", err)
				return nil // isolate failures per root; don't cancel siblings
			}
			batches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := batches[:0]
	for _, b := range batches {
		if b.WatchRoot != "" {
			out = append(out, b)
		}
	}
	return out, nil
}

func (a *Adapter) queryRoot(ctx context.Context, watchRoot string) (Batch, error) {
	canonical, err := a.client.WatchProject(ctx, watchRoot)
	if err != nil {
		return Batch{}, err
	}
	relative := relativeRoot(canonical, watchRoot)

	since, _, err := a.clocks.Get(ctx, watchRoot)
	if err != nil {
		return Batch{}, err
	}
	result, err := a.client.Query(ctx, canonical, relative, since)
	if err != nil {
		return Batch{}, err
	}
	return Batch{WatchRoot: watchRoot, Files: result.Files, Clock: result.Clock}, nil
}

func relativeRoot(canonical, watchRoot string) string {
	if canonical == watchRoot {
		return ""
	}
	rel, err := filepath.Rel(canonical, watchRoot)
	if err != nil {
		return watchRoot
	}
	return filepath.ToSlash(rel)
}

// Subscribe registers a persistent subscription per watch root, mapping
// the service-assigned subscription name back to the configured watch
// root (spec §4.6: "the service's reported watch root may be an
// ancestor of the configured directory").
func (a *Adapter) Subscribe(ctx context.Context, watchRoots []string) ([]Batch, error) {
	var initial []Batch
	for _, root := range watchRoots {
		canonical, err := a.client.WatchProject(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("changesource: watch-project %s: %w", root, err)
		}
		since, _, err := a.clocks.Get(ctx, root)
		if err != nil {
			return nil, err
		}
		name := subscriptionName(root)
		result, err := a.client.Subscribe(ctx, canonical, name, since)
		if err != nil {
			return nil, fmt.Errorf("changesource: subscribe %s: %w", root, err)
		}
		a.mu.Lock()
		a.subToRoot[name] = root
		a.mu.Unlock()
		// Always hand the clock to the caller, even with an empty file
		// list, so it still flows through the normalizer's flush-then-
		// persist sequence instead of being silently dropped here.
		initial = append(initial, Batch{WatchRoot: root, Files: result.Files, Clock: result.Clock})
	}
	return initial, nil
}

func subscriptionName(watchRoot string) string {
	return "pdsyncd:" + watchRoot
}

// PumpSubscriptions reads pushed subscription frames from the client and
// invokes onBatch for each one resolvable to a known watch root; frames
// for unknown or since-removed subscriptions are logged and discarded
// (spec §4.6). Blocks until ctx is canceled or the subscription channel
// closes.
func (a *Adapter) PumpSubscriptions(ctx context.Context, onBatch func(Batch)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-a.client.Subscriptions():
			if !ok {
				return nil
			}
			result := parseQueryResult(frame)
			a.mu.Lock()
			root, known := a.subToRoot[result.SubscriptionName]
			a.mu.Unlock()
			if !known {
				a.log.Warn("discarding event for unknown subscription", "subscription", result.SubscriptionName)
				continue
			}
			onBatch(Batch{WatchRoot: root, Files: result.Files, Clock: result.Clock})
		}
	}
}

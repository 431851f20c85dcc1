// internal/sharelink/resolver.go
//
// Public share-link resolution.
//
// Context
// -------
// `GET /share/{slug}` is the only unauthenticated read path in the system,
// and the only hot one: a link pasted into a club newsletter can see a
// thousand hits in a minute against a layout that has not changed in weeks.
// Resolution therefore splits three ways:
//
//   1. The link row itself is always read fresh — revocation and expiry
//      must take effect immediately, and expiry is evaluated here at
//      resolution time, never eagerly by a background job.
//   2. The layout snapshot (layout + zones + assets) is assembled behind a
//      singleflight group and cached in a small LRU keyed by layout id and
//      updated_at, so concurrent resolutions of the same slug cost one
//      database round-trip and an edit invalidates the key naturally.
//      Zone and asset writes stamp the parent layout's updated_at in the
//      store, so child edits rotate the key too.
//   3. The access counter and the access-event row are handed to a worker
//      pool through a buffered channel.  The enqueue never blocks; under
//      backpressure the event is dropped and counted, because losing an
//      analytics tick beats failing a public page load.
package sharelink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/groundplan/groundplan/internal/cache"
	"github.com/groundplan/groundplan/internal/metrics"
	"github.com/groundplan/groundplan/internal/store"
)

// Taxonomy aliases so HTTP code can branch without importing store
// everywhere.
var (
	ErrNotFound = store.ErrNotFound
	ErrExpired  = store.ErrExpired
	ErrRevoked  = store.ErrRevoked
)

// Snapshot is the public view of a shared layout.  Version tokens are
// stripped: anonymous viewers cannot mutate, so handing them write
// preconditions would only invite confusion.
type Snapshot struct {
	Layout store.Layout  `json:"layout"`
	Zones  []store.Zone  `json:"zones"`
	Assets []store.Asset `json:"assets"`
}

// snapshotCacheSize bounds the LRU.  A club rarely has more than a handful
// of actively shared layouts; 256 is generous.
const snapshotCacheSize = 256

// Resolver resolves slugs to layout snapshots.
type Resolver struct {
	links   *store.ShareLinks
	layouts *store.Layouts
	zones   *store.Zones
	assets  *store.Assets

	snapshots *cache.LRU
	sfg       singleflight.Group

	recorder *Recorder // nil disables access recording (tests)

	now func() time.Time
}

// NewResolver wires the resolver over the repositories.  recorder may be
// nil; resolution then skips the analytics side effect entirely.
func NewResolver(links *store.ShareLinks, layouts *store.Layouts, zones *store.Zones, assets *store.Assets, recorder *Recorder) *Resolver {
	return &Resolver{
		links:     links,
		layouts:   layouts,
		zones:     zones,
		assets:    assets,
		snapshots: cache.New(snapshotCacheSize),
		recorder:  recorder,
		now:       time.Now,
	}
}

// Resolve maps a slug to a snapshot, enforcing revocation and expiry, and
// queues exactly one access event per successful resolution.
func (r *Resolver) Resolve(ctx context.Context, slug string, meta AccessMeta) (*Snapshot, error) {
	link, err := r.links.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.ShareResolutionsTotal.WithLabelValues("not_found").Inc()
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolve %q: %w", slug, err)
	}
	if link.IsRevoked {
		metrics.ShareResolutionsTotal.WithLabelValues("revoked").Inc()
		return nil, ErrRevoked
	}
	if link.ExpiresAt != nil && r.now().After(*link.ExpiresAt) {
		metrics.ShareResolutionsTotal.WithLabelValues("expired").Inc()
		return nil, ErrExpired
	}

	snap, err := r.snapshot(ctx, link.LayoutID)
	if err != nil {
		return nil, err
	}

	// The analytics side effect must never block or fail the resolution.
	if r.recorder != nil {
		r.recorder.Enqueue(AccessEvent{
			LinkID:     link.ID,
			OccurredAt: r.now(),
			Meta:       meta,
		})
	}
	metrics.ShareResolutionsTotal.WithLabelValues("ok").Inc()
	return snap, nil
}

// snapshot assembles (or reuses) the public view of a layout.
func (r *Resolver) snapshot(ctx context.Context, layoutID int64) (*Snapshot, error) {
	layout, err := r.layouts.Get(ctx, layoutID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Link outlived its layout; a foreign key makes this rare but
			// a racing cascade can still get here.
			return nil, ErrNotFound
		}
		return nil, err
	}

	key := fmt.Sprintf("%d@%d", layout.ID, layout.UpdatedAt.UnixMicro())
	if v, ok := r.snapshots.Get(key); ok {
		return v.(*Snapshot), nil
	}

	v, err, _ := r.sfg.Do(key, func() (any, error) {
		zones, err := r.zones.ForLayout(ctx, layout.ID)
		if err != nil {
			return nil, err
		}
		assets, err := r.assets.ForLayout(ctx, layout.ID)
		if err != nil {
			return nil, err
		}
		snap := &Snapshot{Layout: *layout, Zones: zones, Assets: assets}
		snap.Layout.VersionToken = ""
		for i := range snap.Zones {
			snap.Zones[i].VersionToken = ""
		}
		for i := range snap.Assets {
			snap.Assets[i].VersionToken = ""
		}
		r.snapshots.Add(key, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// internal/sharelink/access.go
//
// Asynchronous access recording for public share links.
//
// Resolution hands each hit to a buffered channel; a small worker pool
// drains it, bumping the counter on the link row and appending a detail
// row to share_link_accesses with the parsed User-Agent and, when a
// GeoLite2 database is configured, the viewer's country.  A full queue
// drops the event and increments a counter rather than ever slowing the
// public page.
package sharelink

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"github.com/groundplan/groundplan/internal/metrics"
	"github.com/groundplan/groundplan/internal/store"
	"github.com/groundplan/groundplan/internal/ua"
)

// AccessMeta is what the HTTP layer knows about the viewer.
type AccessMeta struct {
	UserAgent string
	RemoteIP  string
}

// AccessEvent is one resolved hit awaiting persistence.
type AccessEvent struct {
	LinkID     int64
	OccurredAt time.Time
	Meta       AccessMeta
}

// Recorder owns the queue and the worker pool.
type Recorder struct {
	links *store.ShareLinks
	geo   *geoip2.Reader // nil when no GeoLite2 database is configured
	log   *zap.Logger

	queue chan AccessEvent
	wg    sync.WaitGroup
}

// NewRecorder builds a recorder with the given queue depth.  geo may be
// nil; country enrichment is then skipped.
func NewRecorder(links *store.ShareLinks, geo *geoip2.Reader, log *zap.Logger, queueDepth int) *Recorder {
	if queueDepth < 1 {
		queueDepth = 1024
	}
	return &Recorder{
		links: links,
		geo:   geo,
		log:   log,
		queue: make(chan AccessEvent, queueDepth),
	}
}

// Enqueue offers an event to the queue without ever blocking.
func (r *Recorder) Enqueue(ev AccessEvent) {
	select {
	case r.queue <- ev:
	default:
		metrics.AccessEventsDroppedTotal.Inc()
		r.log.Warn("access event dropped, queue full",
			zap.Int64("link_id", ev.LinkID))
	}
}

// Start launches n workers that serve the queue until ctx is cancelled,
// then flush whatever is still buffered before exiting.
func (r *Recorder) Start(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					r.drain()
					return
				case ev := <-r.queue:
					r.record(ev)
				}
			}
		}()
	}
}

// drain empties the buffer once the run context has ended.  Every event
// already accepted by Enqueue is persisted; only events arriving after
// shutdown began can still be dropped.
func (r *Recorder) drain() {
	for {
		select {
		case ev := <-r.queue:
			r.record(ev)
		default:
			return
		}
	}
}

// Wait blocks until every worker has exited, which includes the shutdown
// flush of the buffered queue.
func (r *Recorder) Wait() { r.wg.Wait() }

// recordTimeout bounds each persistence attempt so a stalled database
// cannot wedge a worker indefinitely.
const recordTimeout = 5 * time.Second

// record persists one event.  Failures are logged and swallowed; the
// resolution that produced the event succeeded long ago.
func (r *Recorder) record(ev AccessEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.links.TouchAccess(ctx, ev.LinkID, ev.OccurredAt); err != nil {
		r.log.Warn("access counter update failed",
			zap.Int64("link_id", ev.LinkID),
			zap.Error(err))
		return
	}

	info := ua.Parse(ev.Meta.UserAgent)
	rec := store.AccessRecord{
		LinkID:     ev.LinkID,
		OccurredAt: ev.OccurredAt,
		Browser:    info.Browser,
		Device:     info.Device,
		Country:    r.country(ev.Meta.RemoteIP),
	}
	if err := r.links.RecordAccess(ctx, rec); err != nil {
		r.log.Warn("access detail insert failed",
			zap.Int64("link_id", ev.LinkID),
			zap.Error(err))
	}
}

// country resolves an ISO country code for the remote address, or ""
// when enrichment is unavailable.
func (r *Recorder) country(remoteIP string) string {
	if r.geo == nil || remoteIP == "" {
		return ""
	}
	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return ""
	}
	rec, err := r.geo.Country(ip)
	if err != nil {
		return ""
	}
	return rec.Country.IsoCode
}

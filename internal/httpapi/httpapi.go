// internal/httpapi/httpapi.go
//
// HTTP surface for the Groundplan store.
//
// Context
// -------
// Routing is chi; handlers stay thin.  Every mutation reads its
// precondition from the `If-Match` header and hands the raw token to the
// repository, which owns the conditional-write semantics.  Handlers only
// translate: decode JSON, run struct validation, call the repo, map the
// error taxonomy onto status codes.
//
// Status mapping
// --------------
//	validation / bad cursor / bad limit  → 400
//	unknown id or slug                   → 404
//	token mismatch or missing token      → 409
//	expired or revoked share link        → 410
//	timeout mid-cascade                  → 504
//	anything else                        → 500 (detail logged, not leaked)
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/groundplan/groundplan/internal/migration"
	"github.com/groundplan/groundplan/internal/sharelink"
	"github.com/groundplan/groundplan/internal/store"
)

// API aggregates the dependencies the handlers need.
type API struct {
	log *zap.SugaredLogger
	db  *sqlx.DB

	sites     *store.Sites
	layouts   *store.Layouts
	zones     *store.Zones
	assets    *store.Assets
	templates *store.Templates
	links     *store.ShareLinks

	resolver *sharelink.Resolver
	migr     *migration.Reporter
}

// New wires the API over one shared connection pool.  pager carries the
// configured list-limit default and ceiling into every repository.
func New(log *zap.SugaredLogger, db *sqlx.DB, resolver *sharelink.Resolver, pager store.Pager) *API {
	return &API{
		log:       log,
		db:        db,
		sites:     store.NewSites(db).WithPager(pager),
		layouts:   store.NewLayouts(db).WithPager(pager),
		zones:     store.NewZones(db).WithPager(pager),
		assets:    store.NewAssets(db).WithPager(pager),
		templates: store.NewTemplates(db).WithPager(pager),
		links:     store.NewShareLinks(db).WithPager(pager),
		resolver:  resolver,
		migr:      migration.NewReporter(db),
	}
}

// Router builds the chi mux.
func (a *API) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sites", func(r chi.Router) {
			r.Post("/", a.createSite)
			r.Get("/", a.listSites)
			r.Get("/{id}", a.getSite)
			r.Put("/{id}", a.updateSite)
			r.Delete("/{id}", a.deleteSite)
		})
		r.Route("/layouts", func(r chi.Router) {
			r.Post("/", a.createLayout)
			r.Get("/", a.listLayouts)
			r.Get("/{id}", a.getLayout)
			r.Put("/{id}", a.updateLayout)
			r.Delete("/{id}", a.deleteLayout)
		})
		r.Route("/zones", func(r chi.Router) {
			r.Post("/", a.createZone)
			r.Get("/", a.listZones)
			r.Get("/{id}", a.getZone)
			r.Put("/{id}", a.updateZone)
			r.Delete("/{id}", a.deleteZone)
		})
		r.Route("/assets", func(r chi.Router) {
			r.Post("/", a.createAsset)
			r.Get("/", a.listAssets)
			r.Get("/{id}", a.getAsset)
			r.Put("/{id}", a.updateAsset)
			r.Delete("/{id}", a.deleteAsset)
		})
		r.Route("/templates", func(r chi.Router) {
			r.Post("/", a.createTemplate)
			r.Get("/", a.listTemplates)
			r.Get("/{id}", a.getTemplate)
			r.Put("/{id}", a.updateTemplate)
			r.Delete("/{id}", a.deleteTemplate)
		})
		r.Route("/share-links", func(r chi.Router) {
			r.Post("/", a.createShareLink)
			r.Get("/", a.listShareLinks)
			r.Get("/{id}", a.getShareLink)
			r.Put("/{id}", a.updateShareLink)
			r.Delete("/{id}", a.deleteShareLink)
		})
	})

	r.Get("/share/{slug}", a.resolveShare)

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)
	r.Get("/admin/migration-status", a.migrationStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// readyz pings the pool so load balancers stop routing before the
// database does.
func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if err := a.db.PingContext(r.Context()); err != nil {
		a.log.Warnw("readyz ping failed", "err", err)
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) migrationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.migr.Check(r.Context())
	if err != nil {
		a.fail(w, "migration", err)
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

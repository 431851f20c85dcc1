package httpapi

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/groundplan/groundplan/internal/sharelink"
	"github.com/groundplan/groundplan/internal/store"
)

//
// Authenticated share-link management
//

func (a *API) createShareLink(w http.ResponseWriter, r *http.Request) {
	var in store.CreateShareLinkInput
	if !a.decode(w, r, &in) {
		return
	}
	link, err := a.links.Create(r.Context(), in)
	if err != nil {
		a.fail(w, "share_link", err)
		return
	}
	a.writeJSON(w, http.StatusCreated, link)
}

func (a *API) getShareLink(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	link, err := a.links.Get(r.Context(), id)
	if err != nil {
		a.fail(w, "share_link", err)
		return
	}
	a.writeJSON(w, http.StatusOK, link)
}

func (a *API) listShareLinks(w http.ResponseWriter, r *http.Request) {
	cursor, limit, ok := a.listParams(w, r)
	if !ok {
		return
	}
	layoutID, ok := a.queryID(w, r, "layout_id")
	if !ok {
		return
	}
	page, err := a.links.List(r.Context(), store.ShareLinkFilter{LayoutID: layoutID}, cursor, limit)
	if err != nil {
		a.fail(w, "share_link", err)
		return
	}
	a.writeJSON(w, http.StatusOK, page)
}

func (a *API) updateShareLink(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	var patch store.UpdateShareLinkInput
	if !a.decode(w, r, &patch) {
		return
	}
	link, err := a.links.Update(r.Context(), id, ifMatch(r), patch)
	if err != nil {
		a.fail(w, "share_link", err)
		return
	}
	a.writeJSON(w, http.StatusOK, link)
}

func (a *API) deleteShareLink(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	if err := a.links.Delete(r.Context(), id, ifMatch(r)); err != nil {
		a.fail(w, "share_link", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//
// Public resolution
//

// resolveShare is the anonymous read path.  The remote address and UA go
// into the async access pipeline; resolution never waits on them.
func (a *API) resolveShare(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	snap, err := a.resolver.Resolve(r.Context(), slug, sharelink.AccessMeta{
		UserAgent: r.UserAgent(),
		RemoteIP:  clientIP(r),
	})
	if err != nil {
		a.fail(w, "share_link", err)
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// socket address without its port.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

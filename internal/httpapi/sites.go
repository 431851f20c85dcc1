package httpapi

import (
	"net/http"

	"github.com/groundplan/groundplan/internal/store"
)

func (a *API) createSite(w http.ResponseWriter, r *http.Request) {
	var in store.CreateSiteInput
	if !a.decode(w, r, &in) {
		return
	}
	site, err := a.sites.Create(r.Context(), in)
	if err != nil {
		a.fail(w, "site", err)
		return
	}
	a.writeJSON(w, http.StatusCreated, site)
}

func (a *API) getSite(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	site, err := a.sites.Get(r.Context(), id)
	if err != nil {
		a.fail(w, "site", err)
		return
	}
	a.writeJSON(w, http.StatusOK, site)
}

func (a *API) listSites(w http.ResponseWriter, r *http.Request) {
	cursor, limit, ok := a.listParams(w, r)
	if !ok {
		return
	}
	clubID, ok := a.queryID(w, r, "club_id")
	if !ok {
		return
	}
	page, err := a.sites.List(r.Context(), store.SiteFilter{ClubID: clubID}, cursor, limit)
	if err != nil {
		a.fail(w, "site", err)
		return
	}
	a.writeJSON(w, http.StatusOK, page)
}

func (a *API) updateSite(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	var patch store.UpdateSiteInput
	if !a.decode(w, r, &patch) {
		return
	}
	site, err := a.sites.Update(r.Context(), id, ifMatch(r), patch)
	if err != nil {
		a.fail(w, "site", err)
		return
	}
	a.writeJSON(w, http.StatusOK, site)
}

func (a *API) deleteSite(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	if err := a.sites.Delete(r.Context(), id, ifMatch(r)); err != nil {
		a.fail(w, "site", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package httpapi

import (
	"net/http"
	"strconv"

	"github.com/groundplan/groundplan/internal/store"
)

func (a *API) createLayout(w http.ResponseWriter, r *http.Request) {
	var in store.CreateLayoutInput
	if !a.decode(w, r, &in) {
		return
	}
	layout, err := a.layouts.Create(r.Context(), in)
	if err != nil {
		a.fail(w, "layout", err)
		return
	}
	a.writeJSON(w, http.StatusCreated, layout)
}

func (a *API) getLayout(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	layout, err := a.layouts.Get(r.Context(), id)
	if err != nil {
		a.fail(w, "layout", err)
		return
	}
	a.writeJSON(w, http.StatusOK, layout)
}

func (a *API) listLayouts(w http.ResponseWriter, r *http.Request) {
	cursor, limit, ok := a.listParams(w, r)
	if !ok {
		return
	}
	siteID, ok := a.queryID(w, r, "site_id")
	if !ok {
		return
	}
	f := store.LayoutFilter{SiteID: siteID}
	if raw := r.URL.Query().Get("is_published"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid_input", "is_published must be a boolean")
			return
		}
		f.IsPublished = &b
	}
	page, err := a.layouts.List(r.Context(), f, cursor, limit)
	if err != nil {
		a.fail(w, "layout", err)
		return
	}
	a.writeJSON(w, http.StatusOK, page)
}

func (a *API) updateLayout(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	var patch store.UpdateLayoutInput
	if !a.decode(w, r, &patch) {
		return
	}
	layout, err := a.layouts.Update(r.Context(), id, ifMatch(r), patch)
	if err != nil {
		a.fail(w, "layout", err)
		return
	}
	a.writeJSON(w, http.StatusOK, layout)
}

// deleteLayout removes the layout and everything it owns; the repository
// runs the child-then-parent cascade in one transaction.
func (a *API) deleteLayout(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	if err := a.layouts.Delete(r.Context(), id, ifMatch(r)); err != nil {
		a.fail(w, "layout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package httpapi

import (
	"net/http"

	"github.com/groundplan/groundplan/internal/store"
)

// Templates are last-write-wins: no If-Match anywhere on this surface.

func (a *API) createTemplate(w http.ResponseWriter, r *http.Request) {
	var in store.CreateTemplateInput
	if !a.decode(w, r, &in) {
		return
	}
	tpl, err := a.templates.Create(r.Context(), in)
	if err != nil {
		a.fail(w, "template", err)
		return
	}
	a.writeJSON(w, http.StatusCreated, tpl)
}

func (a *API) getTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	tpl, err := a.templates.Get(r.Context(), id)
	if err != nil {
		a.fail(w, "template", err)
		return
	}
	a.writeJSON(w, http.StatusOK, tpl)
}

func (a *API) listTemplates(w http.ResponseWriter, r *http.Request) {
	cursor, limit, ok := a.listParams(w, r)
	if !ok {
		return
	}
	f := store.TemplateFilter{
		SportType: r.URL.Query().Get("sport_type"),
		OwnerID:   r.URL.Query().Get("owner_id"),
	}
	page, err := a.templates.List(r.Context(), f, cursor, limit)
	if err != nil {
		a.fail(w, "template", err)
		return
	}
	a.writeJSON(w, http.StatusOK, page)
}

func (a *API) updateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	var patch store.UpdateTemplateInput
	if !a.decode(w, r, &patch) {
		return
	}
	tpl, err := a.templates.Update(r.Context(), id, patch)
	if err != nil {
		a.fail(w, "template", err)
		return
	}
	a.writeJSON(w, http.StatusOK, tpl)
}

func (a *API) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	if err := a.templates.Delete(r.Context(), id); err != nil {
		a.fail(w, "template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

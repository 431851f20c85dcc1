package httpapi

import (
	"net/http"

	"github.com/groundplan/groundplan/internal/store"
)

func (a *API) createZone(w http.ResponseWriter, r *http.Request) {
	var in store.CreateZoneInput
	if !a.decode(w, r, &in) {
		return
	}
	zone, err := a.zones.Create(r.Context(), in)
	if err != nil {
		a.fail(w, "zone", err)
		return
	}
	a.writeJSON(w, http.StatusCreated, zone)
}

func (a *API) getZone(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	zone, err := a.zones.Get(r.Context(), id)
	if err != nil {
		a.fail(w, "zone", err)
		return
	}
	a.writeJSON(w, http.StatusOK, zone)
}

func (a *API) listZones(w http.ResponseWriter, r *http.Request) {
	cursor, limit, ok := a.listParams(w, r)
	if !ok {
		return
	}
	layoutID, ok := a.queryID(w, r, "layout_id")
	if !ok {
		return
	}
	f := store.ZoneFilter{
		LayoutID: layoutID,
		ZoneType: r.URL.Query().Get("zone_type"),
	}
	page, err := a.zones.List(r.Context(), f, cursor, limit)
	if err != nil {
		a.fail(w, "zone", err)
		return
	}
	a.writeJSON(w, http.StatusOK, page)
}

func (a *API) updateZone(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	var patch store.UpdateZoneInput
	if !a.decode(w, r, &patch) {
		return
	}
	zone, err := a.zones.Update(r.Context(), id, ifMatch(r), patch)
	if err != nil {
		a.fail(w, "zone", err)
		return
	}
	a.writeJSON(w, http.StatusOK, zone)
}

// deleteZone detaches the zone's assets (their zone pointer goes NULL)
// before the row itself goes; both happen in one repo transaction.
func (a *API) deleteZone(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	if err := a.zones.Delete(r.Context(), id, ifMatch(r)); err != nil {
		a.fail(w, "zone", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

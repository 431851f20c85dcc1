package httpapi

import (
	"net/http"

	"github.com/groundplan/groundplan/internal/store"
)

func (a *API) createAsset(w http.ResponseWriter, r *http.Request) {
	var in store.CreateAssetInput
	if !a.decode(w, r, &in) {
		return
	}
	asset, err := a.assets.Create(r.Context(), in)
	if err != nil {
		a.fail(w, "asset", err)
		return
	}
	a.writeJSON(w, http.StatusCreated, asset)
}

func (a *API) getAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	asset, err := a.assets.Get(r.Context(), id)
	if err != nil {
		a.fail(w, "asset", err)
		return
	}
	a.writeJSON(w, http.StatusOK, asset)
}

func (a *API) listAssets(w http.ResponseWriter, r *http.Request) {
	cursor, limit, ok := a.listParams(w, r)
	if !ok {
		return
	}
	layoutID, ok := a.queryID(w, r, "layout_id")
	if !ok {
		return
	}
	zoneID, ok := a.queryID(w, r, "zone_id")
	if !ok {
		return
	}
	f := store.AssetFilter{
		LayoutID:  layoutID,
		ZoneID:    zoneID,
		AssetType: r.URL.Query().Get("asset_type"),
	}
	page, err := a.assets.List(r.Context(), f, cursor, limit)
	if err != nil {
		a.fail(w, "asset", err)
		return
	}
	a.writeJSON(w, http.StatusOK, page)
}

func (a *API) updateAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	var patch store.UpdateAssetInput
	if !a.decode(w, r, &patch) {
		return
	}
	asset, err := a.assets.Update(r.Context(), id, ifMatch(r), patch)
	if err != nil {
		a.fail(w, "asset", err)
		return
	}
	a.writeJSON(w, http.StatusOK, asset)
}

func (a *API) deleteAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := a.urlID(w, r)
	if !ok {
		return
	}
	if err := a.assets.Delete(r.Context(), id, ifMatch(r)); err != nil {
		a.fail(w, "asset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

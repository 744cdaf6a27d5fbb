package api

import (
	"fmt"
	"net/http"
	"strings"

	"procodus.dev/ipdr/internal/ipdr"
)

type profilePage struct {
	Profiles []ipdr.Profile `json:"profiles"`
	Page     int            `json:"page"`
	Limit    int            `json:"limit"`
}

func (a *API) handleAddProfile(w http.ResponseWriter, r *http.Request) {
	a.addRow(w, r, ipdr.KindProfile, "Profile successfully added")
}

func (a *API) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	p, err := a.pagination(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	profiles, err := a.store.FindProfiles(r.Context(), ipdr.ProfileFilter{Limit: p.Limit, Offset: p.offset()})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, profilePage{Profiles: profiles, Page: p.Page, Limit: p.Limit})
}

func (a *API) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		a.fail(w, r, ipdr.RequestError("phoneNumber", "is required"))
		return
	}

	profiles, err := a.store.FindProfiles(r.Context(), ipdr.ProfileFilter{PhoneNumber: phone, Limit: 1})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(profiles) == 0 {
		a.fail(w, r, fmt.Errorf("%w: no profile for phone number %s", ipdr.ErrNotFound, phone))
		return
	}
	a.respond(w, http.StatusOK, profiles[0])
}

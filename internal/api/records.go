package api

import (
	"net/http"
	"strconv"
	"strings"

	"procodus.dev/ipdr/internal/ipdr"
)

type recordPage struct {
	Records []ipdr.Record `json:"records"`
	Page    int           `json:"page"`
	Limit   int           `json:"limit"`
	Total   int64         `json:"total"`
}

// noMatchNote accompanies an empty proximity result.
const noMatchNote = "no matching records"

type nearbyResult struct {
	Records []ipdr.Record `json:"records"`
	Note    string        `json:"note,omitempty"`
}

type statisticsResponse struct {
	IPDRCounts [12]int64 `json:"ipdrCounts"`
	Code       int       `json:"code"`
}

// handleNearby returns the records started near a point and a time.
func (a *API) handleNearby(w http.ResponseWriter, r *http.Request) {
	var req nearbyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	q := ipdr.NearbyQuery{
		DurationMinutes: req.Duration.value(),
		RadiusKm:        req.Radius.value(),
	}

	if strings.TrimSpace(req.RefTime) != "" {
		ref, ok := ipdr.ParseTimestamp(req.RefTime, a.pipeline.Normalizer().Location())
		if !ok {
			a.fail(w, r, ipdr.RequestError("refTime", "is not a valid timestamp"))
			return
		}
		q.RefTime = ref
	}

	if loc := req.Location; loc != nil {
		q.Lat, q.Long = loc.Lat.ptr(), loc.Long.ptr()
		if (q.Lat == nil || q.Long == nil) && strings.TrimSpace(loc.Address) != "" {
			place, err := a.locations.ResolvePlace(r.Context(), loc.Address)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			q.Lat, q.Long = &place.Lat, &place.Long
		}
	}

	records, err := a.proximity.FindNearby(r.Context(), q)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	result := nearbyResult{Records: records}
	if len(records) == 0 {
		result.Records = []ipdr.Record{}
		result.Note = noMatchNote
	}
	a.respond(w, http.StatusOK, result)
}

// handleListRecords returns one page of records.
func (a *API) handleListRecords(w http.ResponseWriter, r *http.Request) {
	p, err := a.pagination(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	suspicious, err := boolQuery(r, "suspicious")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	filter := ipdr.RecordFilter{Suspicious: suspicious}
	total, err := a.store.CountRecords(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	filter.Limit, filter.Offset = p.Limit, p.offset()
	records, err := a.store.FindRecords(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.respond(w, http.StatusOK, recordPage{Records: records, Page: p.Page, Limit: p.Limit, Total: total})
}

func (a *API) handleCountRecords(w http.ResponseWriter, r *http.Request) {
	n, err := a.store.CountRecords(r.Context(), ipdr.RecordFilter{})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, map[string]int64{"count": n})
}

func (a *API) handleRecordsByNumber(w http.ResponseWriter, r *http.Request) {
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

	records, err := a.store.FindRecords(r.Context(), ipdr.RecordFilter{PhoneNumber: phone})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, records)
}

// handleAddRecord validates and upserts a single record.
func (a *API) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	a.addRow(w, r, ipdr.KindIPDR, "Record successfully added")
}

func (a *API) addRow(w http.ResponseWriter, r *http.Request, kind ipdr.Kind, created string) {
	var row ipdr.RawRow
	if err := decodeJSON(w, r, &row); err != nil {
		a.fail(w, r, err)
		return
	}
	if len(row) == 0 {
		a.fail(w, r, ipdr.RequestError("body", "is empty"))
		return
	}

	outcome, err := a.pipeline.IngestRow(r.Context(), row, kind)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if outcome.Rejection != nil {
		a.respond(w, http.StatusBadRequest, outcome.Rejection.Error())
		return
	}
	a.respond(w, http.StatusCreated, created)
}

// handleStatistics returns the monthly record counts of ?year (default: this year).
func (a *API) handleStatistics(w http.ResponseWriter, r *http.Request) {
	year := 0
	if v := r.URL.Query().Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			a.fail(w, r, ipdr.RequestError("year", "must be an integer"))
			return
		}
		year = n
	}

	counts, err := a.stats.MonthlyCounts(r.Context(), year)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, statisticsResponse{IPDRCounts: counts, Code: http.StatusOK})
}

func (a *API) handleLocatePhone(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	loc, err := a.locations.LocatePhone(r.Context(), req.PhoneNumber)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, loc)
}

func (a *API) handleSuggestLocations(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	addresses, err := a.locations.SuggestLocations(r.Context(), req.Data)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, addresses)
}

package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"procodus.dev/ipdr/internal/ipdr"
)

// number accepts a JSON number or a numeric string.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%q is not a number", s)
	}
	*n = number(f)
	return nil
}

func (n *number) ptr() *float64 {
	if n == nil {
		return nil
	}
	f := float64(*n)
	return &f
}

func (n *number) value() float64 {
	if n == nil {
		return 0
	}
	return float64(*n)
}

type locationBody struct {
	Lat     *number `json:"lat"`
	Long    *number `json:"long"`
	Address string  `json:"address"`
}

type nearbyRequest struct {
	RefTime  string        `json:"refTime"`
	Duration *number       `json:"duration"`
	Location *locationBody `json:"location"`
	Radius   *number       `json:"radius"`
}

type phoneRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type textRequest struct {
	Data string `json:"data"`
}

type page struct {
	Page  int
	Limit int
}

func (p page) offset() int {
	return (p.Page - 1) * p.Limit
}

// pagination reads ?page (1-based) and ?limit.
func (a *API) pagination(r *http.Request) (page, error) {
	p := page{Page: 1, Limit: a.pageSize}
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, ipdr.RequestError("page", "must be a positive integer")
		}
		p.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, ipdr.RequestError("limit", "must be a positive integer")
		}
		p.Limit = min(n, maxPageSize)
	}
	if p.Page-1 > math.MaxInt/p.Limit {
		return p, ipdr.RequestError("page", "is too large")
	}
	return p, nil
}

func boolQuery(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, ipdr.RequestError(name, "must be true or false")
	}
	return &b, nil
}

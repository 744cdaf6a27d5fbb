// Package generator produces mock IPDR sessions and subscriber profiles.
package generator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// IPDRColumns is the column order of generated IPDR rows.
var IPDRColumns = []string{
	"privateIP", "privatePort", "publicIP", "publicPort", "destIP", "destPort",
	"phoneNumber", "startTime", "endTime", "uplinkVolume", "downlinkVolume", "totalVolume",
	"imei", "imsi", "originLat", "originLong", "accessType",
}

// ProfileColumns is the column order of generated profile rows.
var ProfileColumns = []string{
	"phoneNumber", "imei", "imsi", "name", "age", "email", "aadharNumber",
	"address", "company", "associatedPhoneNumbers", "associatedImeis",
}

// Hotspot is a city centre sessions cluster around.
type Hotspot struct {
	Name string
	Lat  float64
	Long float64
}

// DefaultHotspots places sessions around a few Indian metros.
var DefaultHotspots = []Hotspot{
	{Name: "New Delhi", Lat: 28.6139, Long: 77.2090},
	{Name: "Mumbai", Lat: 19.0760, Long: 72.8777},
	{Name: "Bengaluru", Lat: 12.9716, Long: 77.5946},
	{Name: "Kolkata", Lat: 22.5726, Long: 88.3639},
}

var accessTypes = []string{"2G", "3G", "4G", "4G", "4G"}

// Subscriber is the identity a generated session belongs to.
type Subscriber struct {
	PhoneNumber string `fake:"{phone}"`
	Name        string `fake:"{name}"`
	Email       string `fake:"{email}"`
	Company     string `fake:"{company}"`
	City        string `fake:"{city}"`
	IMEI        string
	IMSI        string
	Aadhar      string
	Age         int
}

// Config configures a Generator.
type Config struct {
	// Seed makes output reproducible; zero picks a random seed.
	Seed uint64
	// Subscribers is the number of distinct phones (default 20).
	Subscribers int
	// From and To bound session start times (default: the last 30 days).
	From time.Time
	To   time.Time
	// Hotspots defaults to DefaultHotspots.
	Hotspots []Hotspot
	// SpreadKm is the maximum distance of a session from its hotspot (default 5).
	SpreadKm float64
}

// Generator builds rows for a fixed pool of subscribers. It is safe for
// concurrent use.
type Generator struct {
	mu          sync.Mutex
	faker       *gofakeit.Faker
	subscribers []Subscriber
	from, to    time.Time
	hotspots    []Hotspot
	spreadDeg   float64
}

// New creates a Generator and its subscriber pool.
func New(cfg Config) (*Generator, error) {
	if cfg.Subscribers <= 0 {
		cfg.Subscribers = 20
	}
	if cfg.To.IsZero() {
		cfg.To = time.Now().UTC()
	}
	if cfg.From.IsZero() {
		cfg.From = cfg.To.AddDate(0, 0, -30)
	}
	if !cfg.From.Before(cfg.To) {
		return nil, fmt.Errorf("time range start %s is not before end %s", cfg.From, cfg.To)
	}
	if len(cfg.Hotspots) == 0 {
		cfg.Hotspots = DefaultHotspots
	}
	if cfg.SpreadKm <= 0 {
		cfg.SpreadKm = 5
	}

	g := &Generator{
		faker:     gofakeit.New(cfg.Seed),
		from:      cfg.From,
		to:        cfg.To,
		hotspots:  cfg.Hotspots,
		spreadDeg: cfg.SpreadKm / 111.0 / 1.5,
	}

	seen := make(map[string]bool, cfg.Subscribers)
	for len(g.subscribers) < cfg.Subscribers {
		var sub Subscriber
		if err := g.faker.Struct(&sub); err != nil {
			return nil, fmt.Errorf("failed to generate subscriber: %w", err)
		}
		if seen[sub.PhoneNumber] {
			continue
		}
		seen[sub.PhoneNumber] = true
		sub.IMEI = g.faker.Numerify("35#############")
		sub.IMSI = "40445" + g.faker.Numerify("##########")
		sub.Aadhar = g.faker.Numerify("############")
		sub.Age = g.faker.IntRange(18, 80)
		g.subscribers = append(g.subscribers, sub)
	}
	return g, nil
}

// Subscribers returns a copy of the subscriber pool.
func (g *Generator) Subscribers() []Subscriber {
	return append([]Subscriber(nil), g.subscribers...)
}

// IPDR returns one session row of a random subscriber.
func (g *Generator) IPDR() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	f := g.faker
	sub := g.subscribers[f.IntRange(0, len(g.subscribers)-1)]
	spot := g.hotspots[f.IntRange(0, len(g.hotspots)-1)]

	start := f.DateRange(g.from, g.to).UTC().Truncate(time.Second)
	end := start.Add(time.Duration(f.IntRange(1, 90)) * time.Minute)
	uplink := int64(f.IntRange(1, 50_000))
	downlink := int64(f.IntRange(1, 500_000))

	return map[string]any{
		"privateIP":      fmt.Sprintf("10.%d.%d.%d", f.IntRange(0, 255), f.IntRange(0, 255), f.IntRange(1, 254)),
		"privatePort":    f.IntRange(1024, 65535),
		"publicIP":       f.IPv4Address(),
		"publicPort":     f.IntRange(1024, 65535),
		"destIP":         f.IPv4Address(),
		"destPort":       f.RandomInt([]int{53, 80, 443, 443, 443, 8080}),
		"phoneNumber":    sub.PhoneNumber,
		"startTime":      start.Format(time.RFC3339),
		"endTime":        end.Format(time.RFC3339),
		"uplinkVolume":   uplink,
		"downlinkVolume": downlink,
		"totalVolume":    uplink + downlink,
		"imei":           sub.IMEI,
		"imsi":           sub.IMSI,
		"originLat":      spot.Lat + f.Float64Range(-g.spreadDeg, g.spreadDeg),
		"originLong":     spot.Long + f.Float64Range(-g.spreadDeg, g.spreadDeg),
		"accessType":     f.RandomString(accessTypes),
	}
}

// Profiles returns one profile row per subscriber.
func (g *Generator) Profiles() []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	rows := make([]map[string]any, 0, len(g.subscribers))
	for i, sub := range g.subscribers {
		associated := []any{}
		if len(g.subscribers) > 1 && g.faker.Bool() {
			other := g.subscribers[(i+1)%len(g.subscribers)]
			associated = append(associated, other.PhoneNumber)
		}
		rows = append(rows, map[string]any{
			"phoneNumber":            sub.PhoneNumber,
			"imei":                   sub.IMEI,
			"imsi":                   sub.IMSI,
			"name":                   sub.Name,
			"age":                    sub.Age,
			"email":                  sub.Email,
			"aadharNumber":           sub.Aadhar,
			"address":                sub.City,
			"company":                sub.Company,
			"associatedPhoneNumbers": associated,
			"associatedImeis":        []any{sub.IMEI},
		})
	}
	return rows
}

// cell renders a row value as spreadsheet text.
func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, cell(item))
		}
		return strings.Join(parts, ";")
	case float64:
		return fmt.Sprintf("%.6f", t)
	}
	return fmt.Sprint(v)
}

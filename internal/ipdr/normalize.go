package ipdr

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Field names as they appear in input rows.
const (
	FieldPrivateIP      = "privateIP"
	FieldPrivatePort    = "privatePort"
	FieldPublicIP       = "publicIP"
	FieldPublicPort     = "publicPort"
	FieldDestIP         = "destIP"
	FieldDestPort       = "destPort"
	FieldPhoneNumber    = "phoneNumber"
	FieldStartTime      = "startTime"
	FieldEndTime        = "endTime"
	FieldUplinkVolume   = "uplinkVolume"
	FieldDownlinkVolume = "downlinkVolume"
	FieldTotalVolume    = "totalVolume"
	FieldIMEI           = "imei"
	FieldIMSI           = "imsi"
	FieldOriginLatLong  = "originLatLong"
	FieldAccessType     = "accessType"

	fieldDate           = "date"
	fieldOriginLat      = "originLat"
	fieldOriginLong     = "originLong"
	fieldOriginCellID   = "originCellID"
	fieldAssociatedName = "associatedName"
	fieldIsSuspicious   = "is_suspicious"
)

// RequiredFields lists the fields every IPDR row must carry, in check order.
var RequiredFields = []string{
	FieldPrivateIP,
	FieldPrivatePort,
	FieldPublicIP,
	FieldPublicPort,
	FieldDestIP,
	FieldDestPort,
	FieldPhoneNumber,
	FieldStartTime,
	FieldEndTime,
	FieldUplinkVolume,
	FieldDownlinkVolume,
	FieldTotalVolume,
	FieldIMEI,
	FieldIMSI,
	FieldOriginLatLong,
	FieldAccessType,
}

// Normalizer turns raw rows into canonical records. It holds no mutable state
// and is safe for concurrent use.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer returns a Normalizer reading zone-less timestamps in loc (UTC when nil).
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Location returns the zone used for zone-less timestamps.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize converts row into a Record or returns a *RowError.
// A row whose coordinate is unusable still normalizes; check
// Record.OriginLatLong.Complete.
func (n *Normalizer) Normalize(row RawRow) (Record, error) {
	coords, hasCoords := extractLatLong(row)

	start, hasStart, err := n.timeField(row, FieldStartTime)
	if err != nil {
		return Record{}, err
	}
	end, hasEnd, err := n.timeField(row, FieldEndTime)
	if err != nil {
		return Record{}, err
	}

	for _, field := range RequiredFields {
		var ok bool
		switch field {
		case FieldStartTime:
			ok = hasStart
		case FieldEndTime:
			ok = hasEnd
		case FieldOriginLatLong:
			ok = hasCoords
		default:
			ok = row.Has(field)
		}
		if !ok {
			return Record{}, missingField(field)
		}
	}

	rec := Record{
		StartTime:     start,
		EndTime:       end,
		OriginLatLong: coords,
	}

	if rec.PrivateIP, err = ipv4Field(row, FieldPrivateIP); err != nil {
		return Record{}, err
	}
	if rec.PublicIP, err = ipv4Field(row, FieldPublicIP); err != nil {
		return Record{}, err
	}
	if rec.DestIP, err = ipv4Field(row, FieldDestIP); err != nil {
		return Record{}, err
	}
	if rec.PrivatePort, err = portField(row, FieldPrivatePort); err != nil {
		return Record{}, err
	}
	if rec.PublicPort, err = portField(row, FieldPublicPort); err != nil {
		return Record{}, err
	}
	if rec.DestPort, err = portField(row, FieldDestPort); err != nil {
		return Record{}, err
	}
	if rec.PhoneNumber, err = digitsField(row, FieldPhoneNumber, 10); err != nil {
		return Record{}, err
	}
	if rec.UplinkVolume, err = volumeField(row, FieldUplinkVolume); err != nil {
		return Record{}, err
	}
	if rec.DownlinkVolume, err = volumeField(row, FieldDownlinkVolume); err != nil {
		return Record{}, err
	}
	if rec.TotalVolume, err = volumeField(row, FieldTotalVolume); err != nil {
		return Record{}, err
	}
	if rec.IMEI, err = digitsField(row, FieldIMEI, 15); err != nil {
		return Record{}, err
	}
	if rec.IMSI, err = digitsField(row, FieldIMSI, 15); err != nil {
		return Record{}, err
	}

	access, _ := row.String(FieldAccessType)
	rec.AccessType = AccessType(strings.ToUpper(access))
	if !rec.AccessType.Valid() {
		return Record{}, invalidField(FieldAccessType, fmt.Errorf("%q is not one of 2G, 3G, 4G", access))
	}

	rec.OriginCellID, _ = row.String(fieldOriginCellID)
	rec.AssociatedName, _ = row.String(fieldAssociatedName)

	if v, ok := row.Lookup(fieldIsSuspicious); ok {
		flag, err := boolValue(v)
		if err != nil {
			return Record{}, invalidField(fieldIsSuspicious, err)
		}
		rec.IsSuspicious = &flag
	}

	return rec, nil
}

// timeField reads field, falling back to the shared "date" column. It reports
// whether a value was present and fails only when a present value is unparsable.
func (n *Normalizer) timeField(row RawRow, field string) (time.Time, bool, error) {
	v, ok := row.Lookup(field)
	if !ok {
		v, ok = row.Lookup(fieldDate)
	}
	if !ok {
		return time.Time{}, false, nil
	}

	t, parsed := timeValue(v, n.loc)
	if !parsed {
		return time.Time{}, true, &RowError{
			Reason: ReasonUnparsableTimestamp,
			Field:  field,
			Err:    fmt.Errorf("%q matches no known layout", stringValue(v)),
		}
	}
	return t, true, nil
}

// extractLatLong combines originLat/originLong, a nested originLatLong object
// or a "lat,long" string. The boolean reports whether any coordinate key was
// present at all.
func extractLatLong(row RawRow) (LatLong, bool) {
	latRaw, hasLat := row.Lookup(fieldOriginLat)
	longRaw, hasLong := row.Lookup(fieldOriginLong)
	combined, hasCombined := row.Lookup(FieldOriginLatLong)

	if !hasLat && !hasLong && !hasCombined {
		return LatLong{}, false
	}

	if hasCombined && !hasLat && !hasLong {
		switch t := combined.(type) {
		case map[string]any:
			latRaw, hasLat = RawRow(t).Lookup("lat")
			longRaw, hasLong = RawRow(t).Lookup("long")
			if !hasLong {
				longRaw, hasLong = RawRow(t).Lookup("lng")
			}
		case []any:
			if len(t) == 2 {
				latRaw, longRaw = t[0], t[1]
				hasLat, hasLong = true, true
			}
		default:
			parts := strings.Split(stringValue(t), ",")
			if len(parts) == 2 {
				latRaw, longRaw = parts[0], parts[1]
				hasLat, hasLong = true, true
			}
		}
	}

	var ll LatLong
	if hasLat {
		if lat, ok := floatValue(latRaw); ok && lat >= -90 && lat <= 90 {
			ll.Lat = &lat
		}
	}
	if hasLong {
		if long, ok := floatValue(longRaw); ok && long >= -180 && long <= 180 {
			ll.Long = &long
		}
	}
	return ll, true
}

func ipv4Field(row RawRow, field string) (string, error) {
	s, _ := row.String(field)
	if len(s) < 7 || len(s) > 16 {
		return "", invalidField(field, fmt.Errorf("%q is not 7-16 characters", s))
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return "", invalidField(field, fmt.Errorf("%q is not a dotted IPv4 address", s))
	}
	return s, nil
}

func portField(row RawRow, field string) (int, error) {
	v, _ := row.Lookup(field)
	n, err := intValue(v)
	if err != nil {
		return 0, invalidField(field, err)
	}
	if n < 0 || n > 65535 {
		return 0, invalidField(field, fmt.Errorf("%d is outside 0-65535", n))
	}
	return int(n), nil
}

func volumeField(row RawRow, field string) (int64, error) {
	v, _ := row.Lookup(field)
	n, err := intValue(v)
	if err != nil {
		return 0, invalidField(field, err)
	}
	if n < 0 {
		return 0, invalidField(field, errors.New("volume cannot be negative"))
	}
	return n, nil
}

func digitsField(row RawRow, field string, length int) (string, error) {
	s, _ := row.String(field)
	if err := checkDigits(s, length); err != nil {
		return "", invalidField(field, err)
	}
	return s, nil
}

func checkDigits(s string, length int) error {
	if len(s) != length {
		return fmt.Errorf("%q must be exactly %d digits", s, length)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return fmt.Errorf("%q must be exactly %d digits", s, length)
		}
	}
	return nil
}

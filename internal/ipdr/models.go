// Package ipdr holds the IPDR and subscriber profile domain: row normalization,
// the store contract, proximity search, monthly statistics and file ingestion.
package ipdr

import (
	"time"

	"gorm.io/datatypes"
)

// AccessType is the radio access technology of a session.
type AccessType string

// Access types accepted on ingestion.
const (
	Access2G AccessType = "2G"
	Access3G AccessType = "3G"
	Access4G AccessType = "4G"
)

// Valid reports whether t is one of the known access types.
func (t AccessType) Valid() bool {
	switch t {
	case Access2G, Access3G, Access4G:
		return true
	}
	return false
}

// LatLong is an origin coordinate in decimal degrees. Either component may be
// nil when the source row did not carry a usable value.
type LatLong struct {
	Lat  *float64 `gorm:"column:lat" json:"lat"`
	Long *float64 `gorm:"column:long" json:"long"`
}

// Complete reports whether both components are present.
func (ll LatLong) Complete() bool {
	return ll.Lat != nil && ll.Long != nil
}

// NewLatLong builds a complete coordinate.
func NewLatLong(lat, long float64) LatLong {
	return LatLong{Lat: &lat, Long: &long}
}

// Record is one internet session event. PhoneNumber and StartTime identify it.
type Record struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	PrivateIP      string     `gorm:"size:16" json:"privateIP"`
	PrivatePort    int        `json:"privatePort"`
	PublicIP       string     `gorm:"size:16" json:"publicIP"`
	PublicPort     int        `json:"publicPort"`
	DestIP         string     `gorm:"size:16" json:"destIP"`
	DestPort       int        `json:"destPort"`
	PhoneNumber    string     `gorm:"size:10;not null;uniqueIndex:idx_ipdr_phone_start,priority:1" json:"phoneNumber"`
	StartTime      time.Time  `gorm:"not null;uniqueIndex:idx_ipdr_phone_start,priority:2;index:idx_ipdr_start_time" json:"startTime"`
	EndTime        time.Time  `gorm:"not null" json:"endTime"`
	UplinkVolume   int64      `json:"uplinkVolume"`
	DownlinkVolume int64      `json:"downlinkVolume"`
	TotalVolume    int64      `json:"totalVolume"`
	IMEI           string     `gorm:"column:imei;size:15" json:"imei"`
	IMSI           string     `gorm:"column:imsi;size:15" json:"imsi"`
	OriginLatLong  LatLong    `gorm:"embedded;embeddedPrefix:origin_" json:"originLatLong"`
	AccessType     AccessType `gorm:"size:2" json:"accessType"`
	OriginCellID   string     `gorm:"column:origin_cell_id" json:"originCellID,omitempty"`
	AssociatedName string     `json:"associatedName,omitempty"`
	IsSuspicious   *bool      `gorm:"column:is_suspicious" json:"is_suspicious,omitempty"`
	CreatedAt      time.Time  `json:"-"`
	UpdatedAt      time.Time  `json:"-"`
}

// TableName specifies the table name for Record.
func (Record) TableName() string {
	return "ipdr_records"
}

// Profile is a subscriber identity keyed by PhoneNumber.
type Profile struct {
	ID                     uint                        `gorm:"primaryKey" json:"id"`
	PhoneNumber            string                      `gorm:"size:10;not null;uniqueIndex" json:"phoneNumber"`
	IMEI                   string                      `gorm:"column:imei;size:15;not null" json:"imei"`
	IMSI                   string                      `gorm:"column:imsi;size:15;not null" json:"imsi"`
	Name                   string                      `json:"name,omitempty"`
	Age                    int                         `json:"age,omitempty"`
	Email                  string                      `json:"email,omitempty"`
	AadharNumber           string                      `json:"aadharNumber,omitempty"`
	Address                string                      `json:"address,omitempty"`
	Company                string                      `json:"company,omitempty"`
	Remarks                string                      `json:"remarks,omitempty"`
	AssociatedPhoneNumbers datatypes.JSONSlice[string] `json:"associatedPhoneNumbers"`
	AssociatedIMEIs        datatypes.JSONSlice[string] `gorm:"column:associated_imeis" json:"associatedImeis"`
	CreatedAt              time.Time                   `json:"-"`
	UpdatedAt              time.Time                   `json:"-"`
}

// TableName specifies the table name for Profile.
func (Profile) TableName() string {
	return "profiles"
}

// Kind selects which normalizer and store key an ingestion uses.
type Kind string

// Ingestion kinds.
const (
	KindIPDR    Kind = "ipdr"
	KindProfile Kind = "profile"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindIPDR, KindProfile:
		return Kind(s), true
	}
	return "", false
}

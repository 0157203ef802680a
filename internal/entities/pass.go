// Package entities contains the core domain objects for the ground-link monitor
package entities

import (
	"fmt"
	"time"
)

// Pass represents one satellite overflight observed at one ground station.
// It is created by discovery with only the portal URLs filled in, then
// enriched by the downloader (local paths) and the analyzer (metadata and
// SNR metrics) before being persisted.
type Pass struct {
	ID            int64
	PassID        string     // Portal-assigned pass identifier, may be empty
	StationName   string     // Ground station name
	SatelliteName string     // Satellite name
	Location      *Location  // Station coordinates, if the log declared them
	PassDate      time.Time  // Calendar day of the pass (midnight UTC)
	PassStart     time.Time  // Declared pass start time
	PassEnd       time.Time  // Pass end time (table-corrected)
	RxStart       time.Time  // Reception window start
	RxEnd         time.Time  // Reception window end
	SnrSum        *float64   // Sum of SNR over the reception window
	SnrAvg        *float64   // Average SNR over the reception window
	SnrMax        *float64   // Maximum SNR over the reception window
	LogURL        string     // Portal download link for the raw log
	LogPath       string     // Local path of the downloaded log
	GraphURL      string     // Portal preview page for the pass graph
	GraphPath     string     // Local path of the rendered graph snapshot
	Success       bool       // True when a reception window was found
}

// Location is a station position in decimal degrees.
type Location struct {
	Lat float64
	Lon float64
}

// String renders the location the way the portal logs print it.
func (l Location) String() string {
	return fmt.Sprintf("(%g, %g)", l.Lat, l.Lon)
}

// DayKey returns the pass date formatted as the station_stats day key.
func (p *Pass) DayKey() string {
	return p.PassDate.Format("2006-01-02")
}

// StationDayStats is one aggregate row per (station, calendar day).
// total_passes always equals success_passes + failed_passes; failed_percent
// is stored denormalized and recomputed on every increment.
type StationDayStats struct {
	ID            int64
	StationName   string
	StatDay       string // YYYY-MM-DD
	TotalPasses   int
	SuccessPasses int
	FailedPasses  int
	FailedPercent float64
	Comment       string
}

// ListingEntry is one pass discovered on a portal listing page: the preview
// page and the raw log download link. Entries are transient and never
// persisted directly.
type ListingEntry struct {
	Station string
	ViewURL string
	GetURL  string
}

// CommercialPass is an externally ordered pass recorded from a side channel
// and later reconciled against the passes actually received.
type CommercialPass struct {
	ID            int64
	StationName   string
	SatelliteName string
	RxStart       string // YYYY-MM-DD HH:MM:SS
	RxEnd         string
	PassType      string
	Comment       string
}

// Package analyzer turns raw pass logs into structured pass records with
// SNR metrics and a computed reception window.
package analyzer

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lorett/groundlink/internal/config"
	"github.com/lorett/groundlink/internal/entities"
)

// ErrInvalidLog marks a log whose measurement table contains a malformed
// record. The log is skipped as a whole; it is not a read failure.
var ErrInvalidLog = errors.New("log contains an invalid record")

// PassAnalyzer parses pass logs and computes reception metrics.
type PassAnalyzer struct {
	snrTriggerLevel float64
}

// NewPassAnalyzer creates an analyzer with the configured SNR trigger level,
// used to derive the reception window when the log carries no State column.
func NewPassAnalyzer(cfg *config.Config) *PassAnalyzer {
	return &PassAnalyzer{snrTriggerLevel: cfg.Analyzer.SnrTriggerLevel}
}

// AnalyzePass reads the pass's log file and returns a copy with header
// metadata and SNR metrics filled in. Read failures and empty log paths are
// returned as errors; a structurally invalid table returns ErrInvalidLog.
func (a *PassAnalyzer) AnalyzePass(p entities.Pass) (entities.Pass, error) {
	if p.LogPath == "" {
		return p, fmt.Errorf("pass has no log path")
	}
	raw, err := os.ReadFile(p.LogPath)
	if err != nil {
		return p, fmt.Errorf("failed to read log file %s: %w", p.LogPath, err)
	}
	lines := strings.Split(string(raw), "\n")

	// Header directives win over whatever the caller knew from the
	// listing; absent directives leave the caller's values alone.
	hdr := extractHeader(lines)
	if hdr.passID != "" {
		p.PassID = hdr.passID
	}
	if hdr.satellite != "" {
		p.SatelliteName = hdr.satellite
	}
	if hdr.station != "" {
		p.StationName = hdr.station
	}
	if hdr.location != nil {
		p.Location = hdr.location
	}
	if !hdr.startTime.IsZero() {
		p.PassStart = hdr.startTime
	}
	if !hdr.passDate.IsZero() {
		p.PassDate = hdr.passDate
	}
	if !hdr.stopTime.IsZero() {
		p.PassEnd = hdr.stopTime
	}

	table, err := a.parseTable(lines)
	if err != nil {
		return p, fmt.Errorf("skip log %s: %w", p.LogPath, err)
	}
	m := a.extractMetrics(table)
	p.SnrSum = m.snrSum
	p.SnrAvg = m.snrAvg
	p.SnrMax = m.snrMax
	p.RxStart = m.rxStart
	p.RxEnd = m.rxEnd
	p.Success = m.success

	fillFromFilename(&p)
	fillFromPassID(&p)
	if p.PassDate.IsZero() && !p.PassStart.IsZero() {
		p.PassDate = dateOf(p.PassStart)
	}
	return p, nil
}

// header holds the values declared by the #-prefixed log directives.
type header struct {
	passID    string
	satellite string
	station   string
	location  *entities.Location
	startTime time.Time
	stopTime  time.Time
	passDate  time.Time
}

// extractHeader scans the directive lines. The measurement table is
// authoritative over the declared close time: when the last data row is
// later than #Closed at: (or the directive is missing), the end time is
// corrected to the last row's timestamp.
func extractHeader(lines []string) header {
	var h header
	var lastDataLine string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			lastDataLine = line
			continue
		}

		switch {
		case strings.HasPrefix(line, "#Pass ID:"):
			h.passID = directiveValue(line)
		case strings.HasPrefix(line, "#Satellite:"):
			h.satellite = directiveValue(line)
		case strings.HasPrefix(line, "#Station:"):
			h.station = directiveValue(line)
		case strings.HasPrefix(line, "#Start time:"):
			raw := directiveValue(line)
			if t, ok := parseDateTime(raw); ok {
				h.startTime = t
				h.passDate = dateOf(t)
			} else if d, ok := parseDateOnly(raw); ok {
				h.passDate = d
			}
		case strings.HasPrefix(line, "#Location:"):
			h.location = parseLocation(directiveValue(line))
		case strings.HasPrefix(line, "#Closed at:"):
			if t, ok := parseDateTime(directiveValue(line)); ok {
				h.stopTime = t
			}
		}
	}

	if fields := strings.Fields(lastDataLine); len(fields) >= 2 {
		if last, ok := parseDateTime(fields[0] + " " + fields[1]); ok {
			if h.stopTime.IsZero() || last.After(h.stopTime) {
				h.stopTime = last
			}
		}
	}
	return h
}

func directiveValue(line string) string {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// parseLocation reads a coordinate pair, either positional (lon lat) or
// with explicit lon/lat markers. Malformed locations yield nil, not an
// error.
func parseLocation(raw string) *entities.Location {
	tokens := strings.Fields(raw)
	if len(tokens) < 2 {
		log.Printf("Malformed location, %d tokens: %q", len(tokens), raw)
		return nil
	}
	lonIdx, latIdx := -1, -1
	for i, tok := range tokens {
		switch tok {
		case "lon":
			lonIdx = i
		case "lat":
			latIdx = i
		}
	}
	var lonStr, latStr string
	if lonIdx > 0 && latIdx > 0 {
		lonStr, latStr = tokens[lonIdx-1], tokens[latIdx-1]
	} else {
		lonStr, latStr = tokens[0], tokens[1]
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		log.Printf("Malformed location: %q", raw)
		return nil
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		log.Printf("Malformed location: %q", raw)
		return nil
	}
	return &entities.Location{Lat: lat, Lon: lon}
}

// logTable is the parsed measurement table. The time column is carried in
// times; values holds every column with the time slot left as NaN.
type logTable struct {
	headers []string
	times   []time.Time
	values  [][]float64
}

func (t *logTable) colIndex(name string) int {
	for i, h := range t.headers {
		if h == name {
			return i
		}
	}
	return -1
}

// parseTable reads the measurement rows. A row that does not tokenize into
// the header's field count, or carries an unparseable value, invalidates
// the whole log, unless it is the final data row, in which case it is
// dropped with a warning. Live logs are sometimes cut off mid-write and
// downstream statistics rely on the truncated remainder being kept.
func (a *PassAnalyzer) parseTable(lines []string) (*logTable, error) {
	table := &logTable{}
	inRecords := false
	baseDate := ""

	for idx, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#Closed at:") {
			break
		}
		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "#Start time:") {
				if t, ok := parseDateTime(directiveValue(line)); ok {
					baseDate = t.Format("2006-01-02")
				}
			}
			if strings.HasPrefix(line, "#Time") {
				table.headers = strings.Fields(strings.TrimPrefix(line, "#"))
				inRecords = true
			}
			continue
		}
		if !inRecords || len(table.headers) == 0 {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		var values []string
		if table.headers[0] == "Time" && len(parts) == len(table.headers)+1 {
			// Date and clock split into two tokens; rejoin them.
			values = append([]string{parts[0] + " " + parts[1]}, parts[2:]...)
		} else {
			values = parts
		}
		if table.headers[0] == "Time" && len(values) > 0 {
			// Bare time-of-day rows get the pass's start date prefixed.
			tv := values[0]
			if baseDate != "" && !strings.Contains(tv, " ") && strings.Contains(tv, ":") {
				values[0] = baseDate + " " + tv
			}
		}

		if len(values) != len(table.headers) {
			if !hasMoreDataLines(lines, idx) {
				log.Printf("Invalid last log line format, ignore: %q", line)
				break
			}
			log.Printf("Invalid log line format: %q", line)
			return nil, ErrInvalidLog
		}

		rowTime, rowValues, ok := parseRow(table.headers, values)
		if !ok {
			if !hasMoreDataLines(lines, idx) {
				log.Printf("Invalid last log line format, ignore: %q", line)
				break
			}
			log.Printf("Invalid log line format: %q", line)
			return nil, ErrInvalidLog
		}
		table.times = append(table.times, rowTime)
		table.values = append(table.values, rowValues)
	}
	return table, nil
}

// parseRow converts one tokenized row: the Time column to a timestamp,
// everything else to float64.
func parseRow(headers, values []string) (time.Time, []float64, bool) {
	var rowTime time.Time
	rowValues := make([]float64, len(values))
	for i, raw := range values {
		if headers[i] == "Time" {
			t, ok := parseDateTime(raw)
			if !ok {
				return time.Time{}, nil, false
			}
			rowTime = t
			rowValues[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return time.Time{}, nil, false
		}
		rowValues[i] = v
	}
	return rowTime, rowValues, true
}

// hasMoreDataLines reports whether any data row follows the given index;
// trailing #Closed at:, comments and blanks do not count.
func hasMoreDataLines(lines []string, idx int) bool {
	for _, rest := range lines[idx+1:] {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			continue
		}
		if strings.HasPrefix(rest, "#Closed at:") {
			return false
		}
		if strings.HasPrefix(rest, "#") {
			continue
		}
		return true
	}
	return false
}

// metrics is the computed reception window and its SNR aggregates.
type metrics struct {
	snrSum  *float64
	snrAvg  *float64
	snrMax  *float64
	rxStart time.Time
	rxEnd   time.Time
	success bool
}

// extractMetrics computes the reception window over the parsed table.
// With a State column the window is the longest contiguous run of State==0
// rows after the first nonzero State (a closed window does not reopen);
// without one it is every row at or above the SNR trigger level. An empty
// window falls back to metrics over all rows with success=false.
func (a *PassAnalyzer) extractMetrics(table *logTable) metrics {
	if table == nil || len(table.headers) == 0 || len(table.values) == 0 {
		return metrics{}
	}

	snrIdx := table.colIndex("SNR")
	if snrIdx < 0 {
		log.Printf("SNR column not found in log headers")
		return metrics{}
	}
	timeIdx := table.colIndex("Time")
	if timeIdx < 0 {
		log.Printf("Time column not found in log headers")
		return metrics{}
	}
	stateIdx := table.colIndex("State")

	var windowIdx []int
	if stateIdx >= 0 {
		windowIdx = stateWindow(table, stateIdx)
	} else {
		for i, row := range table.values {
			if row[snrIdx] >= a.snrTriggerLevel {
				windowIdx = append(windowIdx, i)
			}
		}
	}

	var m metrics
	var snr []float64
	if len(windowIdx) > 0 {
		for _, i := range windowIdx {
			snr = append(snr, table.values[i][snrIdx])
		}
		m.rxStart = table.times[windowIdx[0]]
		m.rxEnd = table.times[windowIdx[len(windowIdx)-1]]
		m.success = true
	} else {
		for _, row := range table.values {
			snr = append(snr, row[snrIdx])
		}
	}

	sum, max := 0.0, snr[0]
	for _, v := range snr {
		sum += v
		if v > max {
			max = v
		}
	}
	avg := round2(sum / float64(len(snr)))
	m.snrSum = &sum
	m.snrMax = &max
	m.snrAvg = &avg
	return m
}

// stateWindow returns the row indices of the longest contiguous State==0
// run that starts after at least one nonzero State row was seen. The first
// run wins a length tie.
func stateWindow(table *logTable, stateIdx int) []int {
	seenNonzero := false
	var best, current []int
	for i, row := range table.values {
		state := row[stateIdx]
		if state != 0 {
			seenNonzero = true
			if len(current) > len(best) {
				best = current
			}
			current = nil
			continue
		}
		if seenNonzero {
			current = append(current, i)
		}
	}
	if len(current) > len(best) {
		best = current
	}
	return best
}

// fillFromFilename recovers station, satellite, date and start time from
// the log file name convention
// <station>__<YYYYMMDD>_<HHMMSS>_<satellite...>_rec.log.
func fillFromFilename(p *entities.Pass) {
	if p.LogPath == "" {
		return
	}
	base := filepath.Base(p.LogPath)
	station, rest := "", base
	if i := strings.Index(base, "__"); i >= 0 {
		station, rest = base[:i], base[i+2:]
	}
	rest = strings.TrimSuffix(rest, "_rec.log")
	rest = strings.TrimSuffix(rest, ".log")
	parts := strings.Split(rest, "_")

	if p.StationName == "" && station != "" {
		p.StationName = station
	}
	if p.SatelliteName == "" && len(parts) >= 3 {
		p.SatelliteName = strings.Join(parts[2:], " ")
	}
	if (p.PassDate.IsZero() || p.PassStart.IsZero()) && len(parts) >= 2 {
		if t, err := time.Parse("20060102 150405", parts[0]+" "+parts[1]); err == nil {
			if p.PassDate.IsZero() {
				p.PassDate = dateOf(t)
			}
			if p.PassStart.IsZero() {
				p.PassStart = t
			}
		}
	}
}

// fillFromPassID recovers date and start time from a pass identifier of the
// form <YYYYMMDD>_<HHMMSS>_....
func fillFromPassID(p *entities.Pass) {
	if p.PassID == "" || (!p.PassDate.IsZero() && !p.PassStart.IsZero()) {
		return
	}
	parts := strings.Split(p.PassID, "_")
	if len(parts) < 2 {
		return
	}
	t, err := time.Parse("20060102 150405", parts[0]+" "+parts[1])
	if err != nil {
		return
	}
	if p.PassDate.IsZero() {
		p.PassDate = dateOf(t)
	}
	if p.PassStart.IsZero() {
		p.PassStart = t
	}
}

// Timestamps in the logs use either a T or a space separator and carry zero
// to six fractional second digits.
var dateTimeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
}

func parseDateTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDateOnly(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 10 {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", raw[:10])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Package repository provides data access implementations
package repository

import (
	"database/sql"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/lorett/groundlink/internal/entities"
	_ "github.com/mattn/go-sqlite3"
)

// StationSnrStats is one station's counters for a day or a date range,
// joined with the average SNR of its passes.
type StationSnrStats struct {
	StationName   string
	TotalPasses   int
	SuccessPasses int
	FailedPasses  int
	FailedPercent float64
	SnrAvg        float64
}

// CommercialStationStats reconciles ordered commercial passes against the
// passes actually received, per station.
type CommercialStationStats struct {
	StationName string
	Planned     int
	Successful  int
	NotReceived int
}

// CommercialMiss is one ordered commercial pass with no successful
// reception, with the failed pass's graph link when one exists.
type CommercialMiss struct {
	StationName   string
	SatelliteName string
	RxStart       string
	RxEnd         string
	GraphURL      string
}

// PassRepository defines the interface for pass persistence and statistics
type PassRepository interface {
	RecordPass(p entities.Pass) (int64, error)
	RecordPasses(passes []entities.Pass) (int, error)
	ListPasses(stationName string) ([]entities.Pass, error)
	DailySuccessStats(day time.Time) ([]entities.StationDayStats, error)
	DailyStationStats(day time.Time) ([]StationSnrStats, error)
	RangeStationStats(from, to time.Time) ([]StationSnrStats, error)
	MaxSnrSumPassPerStation(day time.Time) ([]entities.Pass, error)
	FailedGraphsByStation(day time.Time) (map[string][]string, error)
	ReplaceCommercialPasses(passes []entities.CommercialPass) (int, error)
	CommercialStatsByStation(from, to time.Time) ([]CommercialStationStats, CommercialStationStats, error)
	CommercialNotReceived(from, to time.Time) ([]CommercialMiss, error)
	Close() error
}

// SQLitePassRepository implements PassRepository using SQLite
type SQLitePassRepository struct {
	db     *sql.DB
	DBPath string
}

// NewSQLitePassRepository creates and initializes a new SQLite repository
func NewSQLitePassRepository(dbPath string) (*SQLitePassRepository, error) {
	if dbPath == "" {
		dbPath = "groundlink.db"
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
	}

	log.Printf("Opening database at %s", dbPath)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS all_passes (
		id INTEGER PRIMARY KEY,
		pass_id TEXT,
		station_name TEXT NOT NULL,
		satellite_name TEXT NOT NULL,
		location TEXT,
		pass_date DATE NOT NULL,
		pass_start_time TEXT NOT NULL,
		pass_end_time TEXT,
		rx_start_time TEXT,
		rx_end_time TEXT,
		snr_awg REAL,
		snr_max REAL,
		snr_sum REAL,
		log_url TEXT,
		log_path TEXT,
		graph_url TEXT,
		graph_path TEXT,
		success INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS commercial_passes (
		id INTEGER PRIMARY KEY,
		station_name TEXT NOT NULL,
		satellite_name TEXT NOT NULL,
		rx_start_time TEXT NOT NULL,
		rx_end_time TEXT,
		pass_type TEXT NOT NULL,
		comment TEXT
	);

	CREATE TABLE IF NOT EXISTS station_stats (
		id INTEGER PRIMARY KEY,
		station_name TEXT NOT NULL,
		stat_day DATE NOT NULL,
		total_passes INTEGER NOT NULL DEFAULT 0,
		success_passes INTEGER NOT NULL DEFAULT 0,
		failed_passes INTEGER NOT NULL DEFAULT 0,
		failed_percent REAL NOT NULL DEFAULT 0,
		comment TEXT,
		UNIQUE (station_name, stat_day)
	);

	CREATE INDEX IF NOT EXISTS idx_all_passes_station_date
		ON all_passes(station_name, pass_date);
	CREATE INDEX IF NOT EXISTS idx_all_passes_satellite
		ON all_passes(satellite_name);
	CREATE INDEX IF NOT EXISTS idx_stats_station_day
		ON station_stats(station_name, stat_day);`

	if _, err = db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	if err := migrateAllPasses(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLitePassRepository{
		db:     db,
		DBPath: dbPath,
	}, nil
}

// migrateAllPasses adds columns introduced after the first deployments.
// Databases created before those columns existed are upgraded in place.
func migrateAllPasses(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(all_passes)")
	if err != nil {
		return fmt.Errorf("failed to inspect all_passes schema: %v", err)
	}
	defer rows.Close()

	existing := map[string]bool{}
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("failed to scan column info: %v", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error during column iteration: %v", err)
	}

	added := []struct{ name, colType string }{
		{"pass_id", "TEXT"},
		{"location", "TEXT"},
		{"snr_awg", "REAL"},
		{"snr_max", "REAL"},
		{"snr_sum", "REAL"},
	}
	for _, col := range added {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE all_passes ADD COLUMN %s %s", col.name, col.colType)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to add column %s: %v", col.name, err)
		}
	}
	return nil
}

// Close closes the database connection
func (r *SQLitePassRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// RecordPass stores one pass and bumps the station's daily counters in a
// single transaction. Passes whose pass_id is already present are not
// inserted again; the existing row's id is returned, so re-processing a
// day never double-counts.
func (r *SQLitePassRepository) RecordPass(p entities.Pass) (int64, error) {
	if err := validatePass(p); err != nil {
		return 0, err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %v", err)
	}

	id, inserted, err := insertPass(tx, p)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if !inserted {
		tx.Rollback()
		log.Printf("Pass with pass_id %s already exists", p.PassID)
		return id, nil
	}
	if err := bumpStats(tx, p.StationName, p.DayKey(), p.Success); err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %v", err)
	}
	return id, nil
}

// RecordPasses stores a batch in one transaction. Invalid passes are
// skipped with a warning; duplicates count as skipped. Returns the number
// of newly inserted passes.
func (r *SQLitePassRepository) RecordPasses(passes []entities.Pass) (int, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %v", err)
	}

	inserted := 0
	for _, p := range passes {
		if err := validatePass(p); err != nil {
			log.Printf("Skipping pass %s/%s: %v", p.StationName, p.SatelliteName, err)
			continue
		}
		_, ok, err := insertPass(tx, p)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		if !ok {
			continue
		}
		if err := bumpStats(tx, p.StationName, p.DayKey(), p.Success); err != nil {
			tx.Rollback()
			return 0, err
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %v", err)
	}
	log.Printf("Successfully recorded %d of %d passes", inserted, len(passes))
	return inserted, nil
}

func validatePass(p entities.Pass) error {
	if p.StationName == "" || p.SatelliteName == "" {
		return fmt.Errorf("station name and satellite name are required")
	}
	if p.PassDate.IsZero() || p.PassStart.IsZero() {
		return fmt.Errorf("pass date and pass start time are required")
	}
	return nil
}

// insertPass adds the row unless an identical pass_id already exists.
// Returns (id, inserted).
func insertPass(tx *sql.Tx, p entities.Pass) (int64, bool, error) {
	if p.PassID != "" {
		var existingID int64
		err := tx.QueryRow(
			"SELECT id FROM all_passes WHERE pass_id = ? LIMIT 1", p.PassID,
		).Scan(&existingID)
		if err == nil {
			return existingID, false, nil
		}
		if err != sql.ErrNoRows {
			return 0, false, fmt.Errorf("failed to check pass_id %s: %v", p.PassID, err)
		}
	}

	var location interface{}
	if p.Location != nil {
		location = p.Location.String()
	}
	res, err := tx.Exec(`
		INSERT INTO all_passes (
			pass_id, station_name, satellite_name, location, pass_date,
			pass_start_time, pass_end_time,
			rx_start_time, rx_end_time,
			snr_awg, snr_max, snr_sum,
			log_url, log_path, graph_url, graph_path,
			success
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		nullStr(p.PassID),
		p.StationName,
		p.SatelliteName,
		location,
		p.DayKey(),
		storedDateTime(p.PassStart),
		storedDateTime(p.PassEnd),
		storedDateTime(p.RxStart),
		storedDateTime(p.RxEnd),
		round2Ptr(p.SnrAvg),
		round2Ptr(p.SnrMax),
		round2Ptr(p.SnrSum),
		nullStr(p.LogURL),
		nullStr(p.LogPath),
		nullStr(p.GraphURL),
		nullStr(p.GraphPath),
		boolToInt(p.Success),
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert pass for %s at %s: %v", p.StationName, p.DayKey(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get inserted pass id: %v", err)
	}
	return id, true, nil
}

// bumpStats applies a one-pass increment to the station's daily counters.
// failed_percent is recomputed inside the upsert from the post-increment
// values, so it always matches failed_passes/total_passes.
func bumpStats(tx *sql.Tx, stationName, dayValue string, success bool) error {
	successInc := 0
	failedInc := 1
	if success {
		successInc, failedInc = 1, 0
	}
	_, err := tx.Exec(`
		INSERT INTO station_stats (
			station_name, stat_day, total_passes, success_passes, failed_passes, failed_percent, comment
		)
		VALUES (?, ?, 1, ?, ?, ?, NULL)
		ON CONFLICT(station_name, stat_day) DO UPDATE SET
			total_passes = total_passes + 1,
			success_passes = success_passes + ?,
			failed_passes = failed_passes + ?,
			failed_percent = ROUND(((failed_passes + ?) * 100.0) / (total_passes + 1), 2)
	`,
		stationName,
		dayValue,
		successInc,
		failedInc,
		float64(failedInc)*100.0,
		successInc,
		failedInc,
		failedInc,
	)
	if err != nil {
		return fmt.Errorf("failed to update stats for %s on %s: %v", stationName, dayValue, err)
	}
	return nil
}

// ListPasses returns stored passes, optionally filtered by station,
// ordered by date and start time.
func (r *SQLitePassRepository) ListPasses(stationName string) ([]entities.Pass, error) {
	query := `
		SELECT id, pass_id, station_name, satellite_name, location, pass_date,
		       pass_start_time, pass_end_time, rx_start_time, rx_end_time,
		       snr_awg, snr_max, snr_sum,
		       log_url, log_path, graph_url, graph_path, success
		FROM all_passes`
	args := []interface{}{}
	if stationName != "" {
		query += " WHERE station_name = ?"
		args = append(args, stationName)
	}
	query += " ORDER BY pass_date, pass_start_time"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %v", err)
	}
	defer rows.Close()

	return scanPasses(rows)
}

// DailySuccessStats returns per-station counters for a day with a
// synthetic "total" row appended; an empty day returns no rows at all.
func (r *SQLitePassRepository) DailySuccessStats(day time.Time) ([]entities.StationDayStats, error) {
	dayValue := day.Format("2006-01-02")
	rows, err := r.db.Query(`
		SELECT station_name, total_passes, success_passes, failed_passes, failed_percent
		FROM station_stats
		WHERE stat_day = ?
		ORDER BY station_name
	`, dayValue)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %v", err)
	}
	defer rows.Close()

	var result []entities.StationDayStats
	totalAll, successAll, failedAll := 0, 0, 0
	for rows.Next() {
		s := entities.StationDayStats{StatDay: dayValue}
		if err := rows.Scan(&s.StationName, &s.TotalPasses, &s.SuccessPasses, &s.FailedPasses, &s.FailedPercent); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		totalAll += s.TotalPasses
		successAll += s.SuccessPasses
		failedAll += s.FailedPasses
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	failedPercentAll := 0.0
	if totalAll > 0 {
		failedPercentAll = round2(float64(failedAll) * 100.0 / float64(totalAll))
	}
	result = append(result, entities.StationDayStats{
		StationName:   "total",
		StatDay:       dayValue,
		TotalPasses:   totalAll,
		SuccessPasses: successAll,
		FailedPasses:  failedAll,
		FailedPercent: failedPercentAll,
	})
	return result, nil
}

// DailyStationStats returns per-station counters for a day together with
// the day's average SNR per station.
func (r *SQLitePassRepository) DailyStationStats(day time.Time) ([]StationSnrStats, error) {
	dayValue := day.Format("2006-01-02")
	rows, err := r.db.Query(`
		SELECT s.station_name,
		       s.total_passes,
		       s.success_passes,
		       s.failed_passes,
		       s.failed_percent,
		       ROUND(AVG(p.snr_awg), 2) AS snr_awg
		FROM station_stats s
		LEFT JOIN all_passes p
		  ON p.station_name = s.station_name
		 AND p.pass_date = s.stat_day
		WHERE s.stat_day = ?
		GROUP BY s.station_name, s.total_passes, s.success_passes, s.failed_passes, s.failed_percent
		ORDER BY s.station_name
	`, dayValue)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily station stats: %v", err)
	}
	defer rows.Close()

	var result []StationSnrStats
	for rows.Next() {
		var s StationSnrStats
		var snrAvg sql.NullFloat64
		if err := rows.Scan(&s.StationName, &s.TotalPasses, &s.SuccessPasses, &s.FailedPasses, &s.FailedPercent, &snrAvg); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		if snrAvg.Valid {
			s.SnrAvg = snrAvg.Float64
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}
	return result, nil
}

// RangeStationStats sums the daily counters over an inclusive date range
// and recomputes failed_percent from the summed values.
func (r *SQLitePassRepository) RangeStationStats(from, to time.Time) ([]StationSnrStats, error) {
	fromValue := from.Format("2006-01-02")
	toValue := to.Format("2006-01-02")

	rows, err := r.db.Query(`
		SELECT station_name,
		       SUM(total_passes) AS total_passes,
		       SUM(success_passes) AS success_passes,
		       SUM(failed_passes) AS failed_passes
		FROM station_stats
		WHERE stat_day BETWEEN ? AND ?
		GROUP BY station_name
		ORDER BY station_name
	`, fromValue, toValue)
	if err != nil {
		return nil, fmt.Errorf("failed to query range stats: %v", err)
	}
	defer rows.Close()

	var result []StationSnrStats
	for rows.Next() {
		var s StationSnrStats
		if err := rows.Scan(&s.StationName, &s.TotalPasses, &s.SuccessPasses, &s.FailedPasses); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		if s.TotalPasses > 0 {
			s.FailedPercent = round2(float64(s.FailedPasses) * 100.0 / float64(s.TotalPasses))
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}

	snrRows, err := r.db.Query(`
		SELECT station_name, AVG(snr_awg) AS snr_awg
		FROM all_passes
		WHERE pass_date BETWEEN ? AND ?
		  AND snr_awg IS NOT NULL
		GROUP BY station_name
	`, fromValue, toValue)
	if err != nil {
		return nil, fmt.Errorf("failed to query range SNR averages: %v", err)
	}
	defer snrRows.Close()

	snrByStation := map[string]float64{}
	for snrRows.Next() {
		var station string
		var snrAvg sql.NullFloat64
		if err := snrRows.Scan(&station, &snrAvg); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		if snrAvg.Valid {
			snrByStation[station] = snrAvg.Float64
		}
	}
	if err := snrRows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}

	for i := range result {
		result[i].SnrAvg = snrByStation[result[i].StationName]
	}
	return result, nil
}

// MaxSnrSumPassPerStation returns exactly one pass per station for the
// day: the one with the highest snr_sum, ties broken by earliest start
// time. Stations with no snr_sum values are absent.
func (r *SQLitePassRepository) MaxSnrSumPassPerStation(day time.Time) ([]entities.Pass, error) {
	dayValue := day.Format("2006-01-02")
	rows, err := r.db.Query(`
		SELECT p.id, p.pass_id, p.station_name, p.satellite_name, p.location, p.pass_date,
		       p.pass_start_time, p.pass_end_time, p.rx_start_time, p.rx_end_time,
		       p.snr_awg, p.snr_max, p.snr_sum,
		       p.log_url, p.log_path, p.graph_url, p.graph_path, p.success
		FROM all_passes p
		JOIN (
			SELECT station_name, MAX(snr_sum) AS max_snr_sum
			FROM all_passes
			WHERE pass_date = ?
			  AND snr_sum IS NOT NULL
			GROUP BY station_name
		) mx
		  ON p.station_name = mx.station_name
		 AND p.snr_sum = mx.max_snr_sum
		WHERE p.pass_date = ?
		ORDER BY p.station_name, p.pass_start_time
	`, dayValue, dayValue)
	if err != nil {
		return nil, fmt.Errorf("failed to query max SNR passes: %v", err)
	}
	defer rows.Close()

	passes, err := scanPasses(rows)
	if err != nil {
		return nil, err
	}

	// Several passes can share the maximum; keep the first per station.
	var result []entities.Pass
	seen := map[string]bool{}
	for _, p := range passes {
		if seen[p.StationName] {
			continue
		}
		seen[p.StationName] = true
		result = append(result, p)
	}
	return result, nil
}

// FailedGraphsByStation returns the graph links of the day's failed
// passes, grouped by station.
func (r *SQLitePassRepository) FailedGraphsByStation(day time.Time) (map[string][]string, error) {
	rows, err := r.db.Query(`
		SELECT station_name, graph_url
		FROM all_passes
		WHERE pass_date = ?
		  AND success = 0
		  AND graph_url IS NOT NULL
		  AND graph_url != ''
		ORDER BY station_name, pass_start_time
	`, day.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query failed graphs: %v", err)
	}
	defer rows.Close()

	result := map[string][]string{}
	for rows.Next() {
		var station, graphURL string
		if err := rows.Scan(&station, &graphURL); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		result[station] = append(result[station], graphURL)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}
	return result, nil
}

// ReplaceCommercialPasses swaps the whole commercial order book for the
// given list in one transaction.
func (r *SQLitePassRepository) ReplaceCommercialPasses(passes []entities.CommercialPass) (int, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %v", err)
	}

	if _, err := tx.Exec("DELETE FROM commercial_passes"); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to clear commercial passes: %v", err)
	}
	for _, cp := range passes {
		passType := cp.PassType
		if passType == "" {
			passType = "commercial"
		}
		_, err := tx.Exec(`
			INSERT INTO commercial_passes (
				station_name, satellite_name, rx_start_time, rx_end_time, pass_type, comment
			) VALUES (?, ?, ?, ?, ?, ?)
		`, cp.StationName, cp.SatelliteName, cp.RxStart, nullStr(cp.RxEnd), passType, nullStr(cp.Comment))
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to insert commercial pass for %s: %v", cp.StationName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %v", err)
	}
	log.Printf("Replaced commercial passes, %d records", len(passes))
	return len(passes), nil
}

// CommercialStatsByStation reconciles ordered commercial passes against
// successful receptions over an inclusive date range. A commercial pass
// counts as received when a successful pass exists for the same station,
// satellite and day. Returns per-station rows plus the totals.
func (r *SQLitePassRepository) CommercialStatsByStation(from, to time.Time) ([]CommercialStationStats, CommercialStationStats, error) {
	fromValue := from.Format("2006-01-02")
	toValue := to.Format("2006-01-02")
	totals := CommercialStationStats{StationName: "total"}

	plannedRows, err := r.db.Query(`
		SELECT station_name, COUNT(*) AS cnt FROM commercial_passes
		WHERE date(rx_start_time) BETWEEN ? AND ?
		GROUP BY station_name
		ORDER BY station_name
	`, fromValue, toValue)
	if err != nil {
		return nil, totals, fmt.Errorf("failed to query planned commercial passes: %v", err)
	}
	defer plannedRows.Close()

	var result []CommercialStationStats
	index := map[string]int{}
	for plannedRows.Next() {
		var s CommercialStationStats
		if err := plannedRows.Scan(&s.StationName, &s.Planned); err != nil {
			return nil, totals, fmt.Errorf("failed to scan row: %v", err)
		}
		s.NotReceived = s.Planned
		index[s.StationName] = len(result)
		result = append(result, s)
		totals.Planned += s.Planned
	}
	if err := plannedRows.Err(); err != nil {
		return nil, totals, fmt.Errorf("error during row iteration: %v", err)
	}

	receivedRows, err := r.db.Query(`
		SELECT cp.station_name, COUNT(DISTINCT cp.id) AS cnt
		FROM commercial_passes cp
		INNER JOIN all_passes ap
		  ON ap.station_name = cp.station_name
		 AND ap.satellite_name = cp.satellite_name
		 AND ap.pass_date = date(cp.rx_start_time)
		 AND ap.success = 1
		WHERE date(cp.rx_start_time) BETWEEN ? AND ?
		GROUP BY cp.station_name
	`, fromValue, toValue)
	if err != nil {
		return nil, totals, fmt.Errorf("failed to query received commercial passes: %v", err)
	}
	defer receivedRows.Close()

	for receivedRows.Next() {
		var station string
		var received int
		if err := receivedRows.Scan(&station, &received); err != nil {
			return nil, totals, fmt.Errorf("failed to scan row: %v", err)
		}
		if i, ok := index[station]; ok {
			result[i].Successful = received
			result[i].NotReceived = result[i].Planned - received
		}
		totals.Successful += received
	}
	if err := receivedRows.Err(); err != nil {
		return nil, totals, fmt.Errorf("error during row iteration: %v", err)
	}

	totals.NotReceived = totals.Planned - totals.Successful
	return result, totals, nil
}

// CommercialNotReceived lists ordered commercial passes in the range with
// no matching successful reception, attaching the failed pass's graph
// link when one exists.
func (r *SQLitePassRepository) CommercialNotReceived(from, to time.Time) ([]CommercialMiss, error) {
	rows, err := r.db.Query(`
		SELECT cp.station_name, cp.satellite_name, cp.rx_start_time, cp.rx_end_time,
		       (SELECT ap.graph_url FROM all_passes ap
		        WHERE ap.station_name = cp.station_name
		          AND ap.satellite_name = cp.satellite_name
		          AND ap.pass_date = date(cp.rx_start_time)
		          AND ap.success = 0
		          AND ap.graph_url IS NOT NULL AND ap.graph_url != ''
		        LIMIT 1) AS graph_url
		FROM commercial_passes cp
		LEFT JOIN all_passes ap
		  ON ap.station_name = cp.station_name
		 AND ap.satellite_name = cp.satellite_name
		 AND ap.pass_date = date(cp.rx_start_time)
		 AND ap.success = 1
		WHERE date(cp.rx_start_time) BETWEEN ? AND ? AND ap.id IS NULL
		ORDER BY cp.station_name, cp.rx_start_time
	`, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query missed commercial passes: %v", err)
	}
	defer rows.Close()

	var result []CommercialMiss
	for rows.Next() {
		var m CommercialMiss
		var rxEnd, graphURL sql.NullString
		if err := rows.Scan(&m.StationName, &m.SatelliteName, &m.RxStart, &rxEnd, &graphURL); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		m.RxEnd = rxEnd.String
		m.GraphURL = graphURL.String
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}
	return result, nil
}

func scanPasses(rows *sql.Rows) ([]entities.Pass, error) {
	var result []entities.Pass
	for rows.Next() {
		var p entities.Pass
		var (
			passID, location                               sql.NullString
			passDate, startTime, endTime, rxStart, rxEnd   sql.NullString
			snrAvg, snrMax, snrSum                         sql.NullFloat64
			logURL, logPath, graphURL, graphPath           sql.NullString
			success                                        int
		)
		if err := rows.Scan(
			&p.ID, &passID, &p.StationName, &p.SatelliteName, &location, &passDate,
			&startTime, &endTime, &rxStart, &rxEnd,
			&snrAvg, &snrMax, &snrSum,
			&logURL, &logPath, &graphURL, &graphPath, &success,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		p.PassID = passID.String
		p.PassDate = parseStoredDate(passDate.String)
		p.PassStart = parseStoredDateTime(startTime.String)
		p.PassEnd = parseStoredDateTime(endTime.String)
		p.RxStart = parseStoredDateTime(rxStart.String)
		p.RxEnd = parseStoredDateTime(rxEnd.String)
		if snrAvg.Valid {
			p.SnrAvg = &snrAvg.Float64
		}
		if snrMax.Valid {
			p.SnrMax = &snrMax.Float64
		}
		if snrSum.Valid {
			p.SnrSum = &snrSum.Float64
		}
		p.LogURL = logURL.String
		p.LogPath = logPath.String
		p.GraphURL = graphURL.String
		p.GraphPath = graphPath.String
		p.Success = success != 0
		p.Location = parseStoredLocation(location.String)
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %v", err)
	}
	return result, nil
}

func storedDateTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format("2006-01-02 15:04:05")
}

// parseStoredLocation reads back the "(lat, lon)" string the entity
// renders; anything else yields nil.
func parseStoredLocation(s string) *entities.Location {
	if s == "" {
		return nil
	}
	var loc entities.Location
	if _, err := fmt.Sscanf(s, "(%g, %g)", &loc.Lat, &loc.Lon); err != nil {
		return nil
	}
	return &loc
}

func parseStoredDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseStoredDateTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func round2Ptr(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return round2(*v)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

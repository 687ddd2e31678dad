// Package store is the durable log of produced predictions and detected
// arrivals, plus the accuracy queries built on top of it.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/etaengine/internal/common/db"
	"github.com/etaengine/internal/common/logger"
	"github.com/etaengine/internal/eta"
	"github.com/etaengine/internal/tracker"
)

// PersistenceStore writes prediction batches and stop arrivals to Postgres.
// It implements eta.PredictionSink and ingest.ArrivalSink.
type PersistenceStore struct {
	db     *db.DB
	logger logger.Logger
}

func New(database *db.DB, log logger.Logger) *PersistenceStore {
	return &PersistenceStore{db: database, logger: log}
}

// EnsureSchema creates the log tables when they do not exist.
func (s *PersistenceStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS eta_predictions (
			id BIGSERIAL PRIMARY KEY,
			vehicle_id TEXT NOT NULL,
			stop_id TEXT NOT NULL,
			stop_name TEXT NOT NULL,
			predicted_arrival_time BIGINT NOT NULL,
			computed_at BIGINT NOT NULL,
			date DATE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_eta_predictions_lookup
			ON eta_predictions (vehicle_id, stop_id, date, computed_at)`,
		`CREATE TABLE IF NOT EXISTS stop_arrivals (
			id BIGSERIAL PRIMARY KEY,
			vehicle_id TEXT NOT NULL,
			stop_id TEXT NOT NULL,
			stop_name TEXT NOT NULL,
			arrival_time BIGINT NOT NULL,
			date DATE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stop_arrivals_lookup
			ON stop_arrivals (vehicle_id, date, arrival_time)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// SavePredictions bulk-inserts one batch. Arrived-sentinel rows are skipped:
// the arrival itself is logged separately through SaveArrival.
func (s *PersistenceStore) SavePredictions(ctx context.Context, batch []eta.Prediction) error {
	rows := make([]eta.Prediction, 0, len(batch))
	for _, p := range batch {
		if p.Arrived() {
			continue
		}
		rows = append(rows, p)
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning prediction insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn("eta_predictions",
		"vehicle_id", "stop_id", "stop_name",
		"predicted_arrival_time", "computed_at", "date"))
	if err != nil {
		return fmt.Errorf("failed to prepare prediction copy: %w", err)
	}
	defer stmt.Close()

	for _, p := range rows {
		date := time.UnixMilli(p.ComputedAt).UTC().Format("2006-01-02")
		if _, err := stmt.Exec(p.VehicleID, p.StopID, p.StopName, p.ETA, p.ComputedAt, date); err != nil {
			return fmt.Errorf("buffering prediction row: %w", err)
		}
	}
	if _, err := stmt.Exec(); err != nil {
		return fmt.Errorf("flushing prediction copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("closing prediction copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing prediction batch: %w", err)
	}

	s.logger.Debug("Saved prediction batch",
		"vehicle_id", rows[0].VehicleID, "rows", len(rows))
	return nil
}

// SaveArrival records one detected stop arrival.
func (s *PersistenceStore) SaveArrival(ctx context.Context, a tracker.Arrival) error {
	date := time.UnixMilli(a.Timestamp).UTC().Format("2006-01-02")
	_, err := s.db.DB().ExecContext(ctx,
		`INSERT INTO stop_arrivals (vehicle_id, stop_id, stop_name, arrival_time, date)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.VehicleID, a.StopID, a.StopName, a.Timestamp, date)
	if err != nil {
		return fmt.Errorf("inserting arrival: %w", err)
	}
	return nil
}

// leadTimes are the look-back offsets used to judge prediction accuracy
// against an actual arrival.
var leadTimes = []time.Duration{5 * time.Minute, 3 * time.Minute, 2 * time.Minute}

// AccuracyRow pairs one actual arrival with the predictions that were
// current at fixed lead times before it. A nil entry means no prediction
// existed near that lead time.
type AccuracyRow struct {
	VehicleID   string           `json:"vehicleId"`
	StopID      string           `json:"stopId"`
	StopName    string           `json:"stopName"`
	ArrivalTime int64            `json:"arrivalTime"`
	Predicted   map[string]int64 `json:"predicted"` // lead ("5m", "3m", "2m") -> predicted arrival, epoch ms
}

// predictionPoint is one logged prediction, as read back for accuracy
// queries.
type predictionPoint struct {
	computedAt int64
	predicted  int64
}

// closestPrediction picks the prediction computed closest to target on
// either side. Ties resolve to the earlier prediction.
func closestPrediction(points []predictionPoint, target int64) (int64, bool) {
	best := -1
	var bestDiff int64
	for i, p := range points {
		diff := p.computedAt - target
		if diff < 0 {
			diff = -diff
		}
		if best == -1 || diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	if best == -1 {
		return 0, false
	}
	return points[best].predicted, true
}

// DashboardData returns, per arrival of the vehicle on the given date, the
// prediction whose computation time lies closest to each lead-time offset
// before the arrival. Only predictions made before the arrival itself are
// considered.
func (s *PersistenceStore) DashboardData(ctx context.Context, vehicleID string, date time.Time) ([]AccuracyRow, error) {
	day := date.UTC().Format("2006-01-02")

	arrivalRows, err := s.db.DB().QueryContext(ctx,
		`SELECT stop_id, stop_name, arrival_time
		 FROM stop_arrivals
		 WHERE vehicle_id = $1 AND date = $2
		 ORDER BY arrival_time`,
		vehicleID, day)
	if err != nil {
		return nil, fmt.Errorf("querying arrivals: %w", err)
	}
	defer arrivalRows.Close()

	var out []AccuracyRow
	for arrivalRows.Next() {
		row := AccuracyRow{VehicleID: vehicleID, Predicted: make(map[string]int64, len(leadTimes))}
		if err := arrivalRows.Scan(&row.StopID, &row.StopName, &row.ArrivalTime); err != nil {
			return nil, fmt.Errorf("scanning arrival: %w", err)
		}

		points, err := s.predictionsBefore(ctx, vehicleID, row.StopID, day, row.ArrivalTime)
		if err != nil {
			return nil, err
		}
		for _, lead := range leadTimes {
			target := row.ArrivalTime - lead.Milliseconds()
			if predicted, ok := closestPrediction(points, target); ok {
				row.Predicted[leadLabel(lead)] = predicted
			}
		}
		out = append(out, row)
	}
	return out, arrivalRows.Err()
}

func (s *PersistenceStore) predictionsBefore(ctx context.Context, vehicleID, stopID, day string, arrivalTime int64) ([]predictionPoint, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT computed_at, predicted_arrival_time
		 FROM eta_predictions
		 WHERE vehicle_id = $1 AND stop_id = $2 AND date = $3
		   AND computed_at < $4
		 ORDER BY computed_at`,
		vehicleID, stopID, day, arrivalTime)
	if err != nil {
		return nil, fmt.Errorf("querying predictions: %w", err)
	}
	defer rows.Close()

	var points []predictionPoint
	for rows.Next() {
		var p predictionPoint
		if err := rows.Scan(&p.computedAt, &p.predicted); err != nil {
			return nil, fmt.Errorf("scanning prediction: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// VehicleIDs lists vehicles with recorded arrivals on the given date.
func (s *PersistenceStore) VehicleIDs(ctx context.Context, date time.Time) ([]string, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT DISTINCT vehicle_id FROM stop_arrivals WHERE date = $1 ORDER BY vehicle_id`,
		date.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("querying vehicle ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning vehicle id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func leadLabel(d time.Duration) string {
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

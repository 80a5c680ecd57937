package trajdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/trackfit/internal/trajectory"
)

// DB wraps the SQLite handle holding fitted trajectories.
type DB struct {
	*sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS fit_trajectories (
		trajectory_id       TEXT PRIMARY KEY,
		run_id              TEXT NOT NULL,
		sensor_id           TEXT,
		entry_index         INTEGER NOT NULL,
		state_count         INTEGER NOT NULL,
		measurement_count   INTEGER NOT NULL,
		hole_count          INTEGER NOT NULL,
		outlier_count       INTEGER NOT NULL,
		total_chi2          REAL NOT NULL,
		created_unix_nanos  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fit_track_states (
		trajectory_id  TEXT NOT NULL,
		seq            INTEGER NOT NULL,
		store_index    INTEGER NOT NULL,
		parent_index   INTEGER NOT NULL,
		type_flags     INTEGER NOT NULL,
		meas_dim       INTEGER NOT NULL,
		chi2           REAL NOT NULL,
		path_length    REAL NOT NULL,
		par0 REAL, par1 REAL, par2 REAL, par3 REAL, par4 REAL, par5 REAL,
		var0 REAL, var1 REAL, var2 REAL, var3 REAL, var4 REAL, var5 REAL,
		PRIMARY KEY (trajectory_id, seq),
		FOREIGN KEY (trajectory_id) REFERENCES fit_trajectories(trajectory_id)
	);

	CREATE INDEX IF NOT EXISTS idx_fit_trajectories_run
		ON fit_trajectories(run_id);
`

// Open opens (creating if necessary) a trajectory database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trajectory db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create trajectory schema: %w", err)
	}
	return &DB{db}, nil
}

// Meta describes the fit run a trajectory belongs to.
type Meta struct {
	RunID            string
	SensorID         string
	CreatedUnixNanos int64
}

// TrajectorySummary is the per-trajectory rollup row.
type TrajectorySummary struct {
	TrajectoryID     string
	RunID            string
	SensorID         string
	EntryIndex       int
	StateCount       int
	MeasurementCount int
	HoleCount        int
	OutlierCount     int
	TotalChi2        float64
	CreatedUnixNanos int64
}

// TrackStateRow is one persisted track state. Parameters and diagonal
// variances come from the best available estimate (smoothed when present,
// else filtered, else predicted).
type TrackStateRow struct {
	Seq         int
	StoreIndex  trajectory.Index
	ParentIndex trajectory.Index
	TypeFlags   trajectory.TrackStateFlags
	MeasDim     int
	Chi2        float64
	PathLength  float64
	Params      [trajectory.BoundSize]float64
	Variances   [trajectory.BoundSize]float64
}

// InsertTrajectory walks backwards from entry and persists the chain
// root-first. It returns the generated trajectory id.
func (db *DB) InsertTrajectory(mt *trajectory.MultiTrajectory, entry trajectory.Index, meta Meta) (string, error) {
	var rows []TrackStateRow
	var totalChi2 float64
	var measurements, holes, outliers int

	mt.VisitBackwards(entry, func(ts trajectory.TrackStateProxy) {
		row := TrackStateRow{
			StoreIndex:  ts.Index(),
			ParentIndex: ts.Previous(),
			TypeFlags:   *ts.TypeFlags(),
			MeasDim:     ts.CalibratedSize(),
			Chi2:        ts.Chi2(),
			PathLength:  ts.PathLength(),
		}
		params := ts.Parameters()
		cov := ts.Covariance()
		for i := 0; i < trajectory.BoundSize; i++ {
			row.Params[i] = params.AtVec(i)
			row.Variances[i] = cov.At(i, i)
		}
		rows = append(rows, row)

		totalChi2 += ts.Chi2()
		switch {
		case ts.TypeFlags().Test(trajectory.OutlierFlag):
			outliers++
		case ts.TypeFlags().Test(trajectory.MeasurementFlag):
			measurements++
		case ts.TypeFlags().Test(trajectory.HoleFlag):
			holes++
		}
	})

	// VisitBackwards yields leaf-to-root; store root-first.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	for i := range rows {
		rows[i].Seq = i
	}

	created := meta.CreatedUnixNanos
	if created == 0 {
		created = time.Now().UnixNano()
	}
	id := uuid.NewString()

	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin trajectory insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO fit_trajectories (
			trajectory_id, run_id, sensor_id, entry_index,
			state_count, measurement_count, hole_count, outlier_count,
			total_chi2, created_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, meta.RunID, meta.SensorID, int(entry),
		len(rows), measurements, holes, outliers,
		totalChi2, created,
	)
	if err != nil {
		return "", fmt.Errorf("insert trajectory: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO fit_track_states (
			trajectory_id, seq, store_index, parent_index,
			type_flags, meas_dim, chi2, path_length,
			par0, par1, par2, par3, par4, par5,
			var0, var1, var2, var3, var4, var5
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare track state insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.Exec(
			id, r.Seq, int(r.StoreIndex), int(r.ParentIndex),
			int(r.TypeFlags), r.MeasDim, r.Chi2, r.PathLength,
			r.Params[0], r.Params[1], r.Params[2], r.Params[3], r.Params[4], r.Params[5],
			r.Variances[0], r.Variances[1], r.Variances[2], r.Variances[3], r.Variances[4], r.Variances[5],
		)
		if err != nil {
			return "", fmt.Errorf("insert track state %d: %w", r.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit trajectory insert: %w", err)
	}
	return id, nil
}

// Trajectory returns the rollup row for id.
func (db *DB) Trajectory(id string) (*TrajectorySummary, error) {
	var s TrajectorySummary
	err := db.QueryRow(`
		SELECT trajectory_id, run_id, sensor_id, entry_index,
			state_count, measurement_count, hole_count, outlier_count,
			total_chi2, created_unix_nanos
		FROM fit_trajectories WHERE trajectory_id = ?`, id).Scan(
		&s.TrajectoryID, &s.RunID, &s.SensorID, &s.EntryIndex,
		&s.StateCount, &s.MeasurementCount, &s.HoleCount, &s.OutlierCount,
		&s.TotalChi2, &s.CreatedUnixNanos,
	)
	if err != nil {
		return nil, fmt.Errorf("get trajectory %s: %w", id, err)
	}
	return &s, nil
}

// TrackStates returns the persisted chain for id, root-first.
func (db *DB) TrackStates(id string) ([]TrackStateRow, error) {
	rows, err := db.Query(`
		SELECT seq, store_index, parent_index, type_flags, meas_dim,
			chi2, path_length,
			par0, par1, par2, par3, par4, par5,
			var0, var1, var2, var3, var4, var5
		FROM fit_track_states WHERE trajectory_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query track states %s: %w", id, err)
	}
	defer rows.Close()

	var out []TrackStateRow
	for rows.Next() {
		var r TrackStateRow
		var storeIndex, parentIndex, flags int
		err := rows.Scan(
			&r.Seq, &storeIndex, &parentIndex, &flags, &r.MeasDim,
			&r.Chi2, &r.PathLength,
			&r.Params[0], &r.Params[1], &r.Params[2], &r.Params[3], &r.Params[4], &r.Params[5],
			&r.Variances[0], &r.Variances[1], &r.Variances[2], &r.Variances[3], &r.Variances[4], &r.Variances[5],
		)
		if err != nil {
			return nil, fmt.Errorf("scan track state: %w", err)
		}
		r.StoreIndex = trajectory.Index(storeIndex)
		r.ParentIndex = trajectory.Index(parentIndex)
		r.TypeFlags = trajectory.TrackStateFlags(flags)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate track states: %w", err)
	}
	return out, nil
}

// Trajectories lists rollups for a run, newest first.
func (db *DB) Trajectories(runID string, limit int) ([]TrajectorySummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT trajectory_id, run_id, sensor_id, entry_index,
			state_count, measurement_count, hole_count, outlier_count,
			total_chi2, created_unix_nanos
		FROM fit_trajectories WHERE run_id = ?
		ORDER BY created_unix_nanos DESC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trajectories for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []TrajectorySummary
	for rows.Next() {
		var s TrajectorySummary
		err := rows.Scan(
			&s.TrajectoryID, &s.RunID, &s.SensorID, &s.EntryIndex,
			&s.StateCount, &s.MeasurementCount, &s.HoleCount, &s.OutlierCount,
			&s.TotalChi2, &s.CreatedUnixNanos,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trajectory: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trajectories: %w", err)
	}
	return out, nil
}

package jogarm

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

const (
	createTrajectoriesTableSQL = `
CREATE TABLE IF NOT EXISTS trajectories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	frame TEXT NOT NULL,
	positions TEXT NOT NULL,
	velocities TEXT NOT NULL
);`

	createSafetyEventsTableSQL = `
CREATE TABLE IF NOT EXISTS safety_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	kind TEXT NOT NULL,
	active INTEGER NOT NULL
);`

	insertTrajectorySQL  = `INSERT INTO trajectories (ts, frame, positions, velocities) VALUES (?, ?, ?, ?)`
	insertSafetyEventSQL = `INSERT INTO safety_events (ts, kind, active) VALUES (?, ?, ?)`
	countTrajectoriesSQL = `SELECT COUNT(*) FROM trajectories`
	countSafetyEventsSQL = `SELECT COUNT(*) FROM safety_events WHERE kind = ? AND active = 1`
)

// Recorder logs published trajectories and safety signal changes to sqlite.
type Recorder struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time

	mu        sync.Mutex
	lastState map[string]bool
}

// OpenRecorder opens or creates the database at path.
func OpenRecorder(path string, logger logging.Logger) (*Recorder, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open session database")
	}
	// Single writer keeps WAL mode happy.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{createTrajectoriesTableSQL, createSafetyEventsTableSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to initialize session schema")
		}
	}
	return &Recorder{db: db, logger: logger, now: time.Now, lastState: map[string]bool{}}, nil
}

// RecordTrajectory stores the first point of traj.
func (r *Recorder) RecordTrajectory(ctx context.Context, traj JointTrajectory) error {
	if len(traj.Points) == 0 {
		return nil
	}
	positions, err := json.Marshal(traj.Points[0].Positions)
	if err != nil {
		return err
	}
	velocities, err := json.Marshal(traj.Points[0].Velocities)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, insertTrajectorySQL, traj.Stamp.UnixNano(), traj.FrameID, string(positions), string(velocities))
	return errors.Wrap(err, "failed to record trajectory")
}

// RecordSignal stores a safety signal when it differs from the last one seen for kind.
func (r *Recorder) RecordSignal(ctx context.Context, kind string, active bool) error {
	r.mu.Lock()
	last, seen := r.lastState[kind]
	r.lastState[kind] = active
	r.mu.Unlock()
	if seen && last == active {
		return nil
	}
	_, err := r.db.ExecContext(ctx, insertSafetyEventSQL, r.now().UnixNano(), kind, active)
	return errors.Wrap(err, "failed to record safety event")
}

// TrajectoryCount returns the number of recorded trajectories.
func (r *Recorder) TrajectoryCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, countTrajectoriesSQL).Scan(&n)
	return n, err
}

// ActivationCount returns how many times kind switched on.
func (r *Recorder) ActivationCount(ctx context.Context, kind string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, countSafetyEventsSQL, kind).Scan(&n)
	return n, err
}

// Run records messages from the given subscriptions until ctx is done.
func (r *Recorder) Run(ctx context.Context, trajectories, collisions, singularities <-chan any) {
	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-trajectories:
			if !ok {
				return
			}
			if traj, isTraj := msg.(JointTrajectory); isTraj {
				err = r.RecordTrajectory(ctx, traj)
			}
		case msg, ok := <-collisions:
			if !ok {
				return
			}
			if active, isBool := msg.(bool); isBool {
				err = r.RecordSignal(ctx, "collision", active)
			}
		case msg, ok := <-singularities:
			if !ok {
				return
			}
			if active, isBool := msg.(bool); isBool {
				err = r.RecordSignal(ctx, "singularity", active)
			}
		}
		if err != nil && ctx.Err() == nil {
			r.logger.Debugf("session recorder: %v", err)
		}
	}
}

func (r *Recorder) Close() error {
	return r.db.Close()
}

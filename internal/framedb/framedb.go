// Package framedb persists per-frame receive statistics to sqlite so an
// acquisition's completeness can be inspected after the run.
package framedb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DB wraps the sqlite handle recording acquisitions and their frames.
type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the frame database at path. Use
// ":memory:" for an ephemeral database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS acquisitions (
			acquisition_id    TEXT PRIMARY KEY,
			bit_depth         TEXT,
			num_images        BIGINT,
			started_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS frames (
			acquisition_id    TEXT,
			frame_number      BIGINT,
			frame_state       TEXT,
			num_active_fems   BIGINT,
			packets_received  BIGINT,
			packets_lost      BIGINT,
			sof_markers       BIGINT,
			eof_markers       BIGINT,
			completed_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(acquisition_id) REFERENCES acquisitions(acquisition_id)
		);
		CREATE INDEX IF NOT EXISTS idx_frames_acquisition
			ON frames(acquisition_id, frame_number);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating framedb schema: %w", err)
	}

	return &DB{db}, nil
}

// FrameRecord is one completed frame's receive statistics.
type FrameRecord struct {
	FrameNumber     uint32
	FrameState      string
	NumActiveFems   int
	PacketsReceived uint32
	PacketsLost     uint64
	SOFMarkers      uint8
	EOFMarkers      uint8
}

// BeginAcquisition creates an acquisition row and returns its id.
func (db *DB) BeginAcquisition(bitDepth string, numImages int) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO acquisitions (acquisition_id, bit_depth, num_images, started_at) VALUES (?, ?, ?, ?)`,
		id, bitDepth, numImages, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("recording acquisition: %w", err)
	}
	return id, nil
}

// RecordFrame inserts one frame's statistics for an acquisition.
func (db *DB) RecordFrame(acquisitionID string, rec FrameRecord) error {
	_, err := db.Exec(
		`INSERT INTO frames (
			acquisition_id, frame_number, frame_state, num_active_fems,
			packets_received, packets_lost, sof_markers, eof_markers
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		acquisitionID, rec.FrameNumber, rec.FrameState, rec.NumActiveFems,
		rec.PacketsReceived, rec.PacketsLost, rec.SOFMarkers, rec.EOFMarkers,
	)
	if err != nil {
		return fmt.Errorf("recording frame %d: %w", rec.FrameNumber, err)
	}
	return nil
}

// Summary aggregates an acquisition's frame statistics.
type Summary struct {
	Frames          int64
	FramesWithLoss  int64
	PacketsReceived int64
	PacketsLost     int64
}

// AcquisitionSummary returns aggregate statistics for one acquisition.
func (db *DB) AcquisitionSummary(acquisitionID string) (Summary, error) {
	var s Summary
	err := db.QueryRow(
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN packets_lost > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(packets_received), 0),
			COALESCE(SUM(packets_lost), 0)
		FROM frames WHERE acquisition_id = ?`,
		acquisitionID,
	).Scan(&s.Frames, &s.FramesWithLoss, &s.PacketsReceived, &s.PacketsLost)
	if err != nil {
		return Summary{}, fmt.Errorf("summarising acquisition %s: %w", acquisitionID, err)
	}
	return s, nil
}

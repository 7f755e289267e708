package settings

import (
	"context"
	"fmt"

	"github.com/starford/preambled/internal/models"
)

// Load reads the persisted settings. An empty database yields empty settings.
func (db *DB) Load(ctx context.Context) (models.Settings, error) {
	out := models.Settings{
		Preambles:       []models.PreambleRef{},
		FolderPreambles: []models.FolderBinding{},
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT path FROM preambles ORDER BY path`)
	if err != nil {
		return out, fmt.Errorf("settings: load preambles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ref models.PreambleRef
		if err := rows.Scan(&ref.Path); err != nil {
			return out, err
		}
		out.Preambles = append(out.Preambles, ref)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	brows, err := db.conn.QueryContext(ctx, `SELECT folder_path, preamble_path FROM folder_preambles ORDER BY folder_path`)
	if err != nil {
		return out, fmt.Errorf("settings: load folder preambles: %w", err)
	}
	defer brows.Close()
	for brows.Next() {
		var fb models.FolderBinding
		if err := brows.Scan(&fb.FolderPath, &fb.PreamblePath); err != nil {
			return out, err
		}
		out.FolderPreambles = append(out.FolderPreambles, fb)
	}
	return out, brows.Err()
}

// Save replaces the persisted settings with s in a single transaction.
// Bindings to unregistered preambles are stored as given.
func (db *DB) Save(ctx context.Context, s models.Settings) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("settings: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `DELETE FROM preambles`); err != nil {
		return fmt.Errorf("settings: clear preambles: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folder_preambles`); err != nil {
		return fmt.Errorf("settings: clear folder preambles: %w", err)
	}

	if len(s.Preambles) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO preambles (path) VALUES (?)`)
		if err != nil {
			return fmt.Errorf("settings: prepare preamble insert: %w", err)
		}
		defer stmt.Close()
		for _, ref := range s.Preambles {
			if _, err := stmt.ExecContext(ctx, ref.Path); err != nil {
				return fmt.Errorf("settings: insert preamble: %w", err)
			}
		}
	}

	if len(s.FolderPreambles) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO folder_preambles (folder_path, preamble_path) VALUES (?, ?)
			ON CONFLICT(folder_path) DO UPDATE SET preamble_path = excluded.preamble_path
		`)
		if err != nil {
			return fmt.Errorf("settings: prepare binding insert: %w", err)
		}
		defer stmt.Close()
		for _, fb := range s.FolderPreambles {
			if _, err := stmt.ExecContext(ctx, fb.FolderPath, fb.PreamblePath); err != nil {
				return fmt.Errorf("settings: insert binding: %w", err)
			}
		}
	}

	return tx.Commit()
}

package sqlite

import "github.com/YasodaLAE/transformer/internal/infra/db/sqlstore"

var Dialect = sqlstore.Dialect{
	Name:   "sqlite",
	Upsert: sqlstore.OnConflict,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS inspections (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  inspection_no TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS thermal_images (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  inspection_id INTEGER NOT NULL,
  file_name TEXT NOT NULL,
  image_type TEXT NOT NULL,
  uploaded_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS annotations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  inspection_id INTEGER NOT NULL,
  annotation_type TEXT NOT NULL,
  original_source TEXT NOT NULL,
  ai_confidence REAL NULL,
  ai_severity_score INTEGER NULL,
  fault_type TEXT NOT NULL DEFAULT '',
  x REAL NOT NULL,
  y REAL NOT NULL,
  width REAL NOT NULL,
  height REAL NOT NULL,
  comments TEXT NULL,
  user_id TEXT NOT NULL,
  updated_at TIMESTAMP NOT NULL,
  is_deleted BOOLEAN NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_annotations_inspection ON annotations (inspection_id, is_deleted)`,
		`CREATE TABLE IF NOT EXISTS annotation_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  inspection_id INTEGER NOT NULL,
  annotation_id INTEGER NOT NULL,
  action TEXT NOT NULL,
  user_id TEXT NOT NULL,
  before_json TEXT NULL,
  after_json TEXT NULL,
  logged_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS anomaly_detection_results (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  inspection_id INTEGER NOT NULL UNIQUE,
  overall_status TEXT NOT NULL,
  detection_json TEXT NOT NULL,
  output_image_name TEXT NOT NULL DEFAULT '',
  original_width INTEGER NULL,
  original_height INTEGER NULL,
  detected_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS model_registry (
  id INTEGER PRIMARY KEY,
  model_name TEXT NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`,
	},
}

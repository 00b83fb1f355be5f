package postgres

import "github.com/YasodaLAE/transformer/internal/infra/db/sqlstore"

var Dialect = sqlstore.Dialect{
	Name:      "postgres",
	Numbered:  true,
	Returning: true,
	Upsert:    sqlstore.OnConflict,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS inspections (
  id BIGSERIAL PRIMARY KEY,
  inspection_no TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS thermal_images (
  id BIGSERIAL PRIMARY KEY,
  inspection_id BIGINT NOT NULL,
  file_name TEXT NOT NULL,
  image_type TEXT NOT NULL,
  uploaded_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_thermal_images_inspection ON thermal_images (inspection_id, image_type)`,
		`CREATE TABLE IF NOT EXISTS annotations (
  id BIGSERIAL PRIMARY KEY,
  inspection_id BIGINT NOT NULL,
  annotation_type TEXT NOT NULL,
  original_source TEXT NOT NULL,
  ai_confidence DOUBLE PRECISION NULL,
  ai_severity_score INTEGER NULL,
  fault_type TEXT NOT NULL DEFAULT '',
  x DOUBLE PRECISION NOT NULL,
  y DOUBLE PRECISION NOT NULL,
  width DOUBLE PRECISION NOT NULL,
  height DOUBLE PRECISION NOT NULL,
  comments TEXT NULL,
  user_id TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  is_deleted BOOLEAN NOT NULL DEFAULT FALSE
)`,
		`CREATE INDEX IF NOT EXISTS idx_annotations_inspection ON annotations (inspection_id, is_deleted)`,
		`CREATE TABLE IF NOT EXISTS annotation_logs (
  id BIGSERIAL PRIMARY KEY,
  inspection_id BIGINT NOT NULL,
  annotation_id BIGINT NOT NULL,
  action TEXT NOT NULL,
  user_id TEXT NOT NULL,
  before_json TEXT NULL,
  after_json TEXT NULL,
  logged_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_annotation_logs_inspection ON annotation_logs (inspection_id)`,
		`CREATE TABLE IF NOT EXISTS anomaly_detection_results (
  id BIGSERIAL PRIMARY KEY,
  inspection_id BIGINT NOT NULL UNIQUE,
  overall_status TEXT NOT NULL,
  detection_json TEXT NOT NULL,
  output_image_name TEXT NOT NULL DEFAULT '',
  original_width INTEGER NULL,
  original_height INTEGER NULL,
  detected_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS model_registry (
  id INTEGER PRIMARY KEY,
  model_name TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	},
}

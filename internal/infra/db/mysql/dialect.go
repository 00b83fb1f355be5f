package mysql

import "github.com/YasodaLAE/transformer/internal/infra/db/sqlstore"

var Dialect = sqlstore.Dialect{
	Name:   "mysql",
	Upsert: sqlstore.OnDuplicateKey,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS inspections (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  inspection_no VARCHAR(64) NOT NULL,
  created_at DATETIME(6) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS thermal_images (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  inspection_id BIGINT NOT NULL,
  file_name VARCHAR(255) NOT NULL,
  image_type VARCHAR(16) NOT NULL,
  uploaded_at DATETIME(6) NOT NULL,
  INDEX idx_thermal_images_inspection (inspection_id, image_type)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS annotations (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  inspection_id BIGINT NOT NULL,
  annotation_type VARCHAR(32) NOT NULL,
  original_source VARCHAR(8) NOT NULL,
  ai_confidence DOUBLE NULL,
  ai_severity_score INT NULL,
  fault_type VARCHAR(128) NOT NULL DEFAULT '',
  x DOUBLE NOT NULL,
  y DOUBLE NOT NULL,
  width DOUBLE NOT NULL,
  height DOUBLE NOT NULL,
  comments TEXT NULL,
  user_id VARCHAR(128) NOT NULL,
  updated_at DATETIME(6) NOT NULL,
  is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
  INDEX idx_annotations_inspection (inspection_id, is_deleted)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS annotation_logs (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  inspection_id BIGINT NOT NULL,
  annotation_id BIGINT NOT NULL,
  action VARCHAR(16) NOT NULL,
  user_id VARCHAR(128) NOT NULL,
  before_json JSON NULL,
  after_json JSON NULL,
  logged_at DATETIME(6) NOT NULL,
  INDEX idx_annotation_logs_inspection (inspection_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS anomaly_detection_results (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  inspection_id BIGINT NOT NULL,
  overall_status VARCHAR(64) NOT NULL,
  detection_json JSON NOT NULL,
  output_image_name VARCHAR(255) NOT NULL DEFAULT '',
  original_width INT NULL,
  original_height INT NULL,
  detected_at DATETIME(6) NOT NULL,
  UNIQUE KEY uq_results_inspection (inspection_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS model_registry (
  id INT PRIMARY KEY,
  model_name VARCHAR(255) NOT NULL,
  updated_at DATETIME(6) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appannotations "github.com/YasodaLAE/transformer/internal/application/annotations"
	appdetections "github.com/YasodaLAE/transformer/internal/application/detections"
)

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func detectCommand(g *globals) *cobra.Command {
	var (
		inspectionID int64
		baseline     string
		threshold    float64
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run the detector for one inspection and seed AI annotations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g.cfg, g.log)
			if err != nil {
				return err
			}
			defer a.Close()

			run := appdetections.RunCommand{InspectionID: inspectionID, BaselineFileName: baseline}
			if cmd.Flags().Changed("threshold") {
				run.Threshold = &threshold
			}
			res, err := a.detections.RunDetection(cmd.Context(), run)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().Int64Var(&inspectionID, "inspection", 0, "Inspection id")
	cmd.Flags().StringVar(&baseline, "baseline", "", "Baseline image file name")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Temperature threshold percentage (default detector.default_threshold)")
	_ = cmd.MarkFlagRequired("inspection")
	_ = cmd.MarkFlagRequired("baseline")
	return cmd
}

func finetuneCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "finetune",
		Short: "Build the dataset from corrected inspections and train a new model",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g.cfg, g.log)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.training.GenerateDatasetAndFineTune(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func exportCommand(g *globals) *cobra.Command {
	var (
		inspectionID int64
		outDir       string
		upload       bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the feedback log of one inspection",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g.cfg, g.log)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.annotations.Export(cmd.Context(), inspectionID)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			name := appannotations.ExportFileName(inspectionID)

			if outDir == "" && !upload {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
				path := filepath.Join(outDir, name)
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return err
				}
				g.log.Info("export written", zap.String("path", path), zap.Int("records", len(records)))
			}
			if upload {
				if a.artifacts == nil {
					return fmt.Errorf("--upload needs minio.enabled")
				}
				url, err := a.artifacts.UploadBytes(cmd.Context(), "exports/"+name, data)
				if err != nil {
					return fmt.Errorf("upload export: %w", err)
				}
				g.log.Info("export uploaded", zap.String("url", url))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&inspectionID, "inspection", 0, "Inspection id")
	cmd.Flags().StringVar(&outDir, "out", "", "Directory to write the export into (default stdout)")
	cmd.Flags().BoolVar(&upload, "upload", false, "Also upload the export to the artifact bucket")
	_ = cmd.MarkFlagRequired("inspection")
	return cmd
}

func migrateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			repos, err := openRepositories(cmd.Context(), g.cfg)
			if err != nil {
				return err
			}
			defer repos.close()

			if err := repos.migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate error: %w", err)
			}
			g.log.Info("schema up to date", zap.String("database", g.cfg.Database.Driver))
			return nil
		},
	}
}

package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	appannotations "github.com/YasodaLAE/transformer/internal/application/annotations"
	appdetections "github.com/YasodaLAE/transformer/internal/application/detections"
	apptraining "github.com/YasodaLAE/transformer/internal/application/training"
	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/apperr"
	"github.com/YasodaLAE/transformer/internal/infra/metrics"
	"github.com/YasodaLAE/transformer/internal/logger"
	"github.com/YasodaLAE/transformer/internal/middleware"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 8 << 20

type Router struct {
	annotations *appannotations.Service
	detections  *appdetections.Service
	training    *apptraining.Service
	log         *zap.Logger
}

// Services are the use-cases exposed over HTTP. Training may be nil.
type Services struct {
	Annotations *appannotations.Service
	Detections  *appdetections.Service
	Training    *apptraining.Service
}

type Options struct {
	// APIKeys maps annotator id to key. Empty disables auth.
	APIKeys        map[string]string
	AllowedOrigins []string
	// RatePerMinute limits detect and fine-tune calls per caller. Zero disables.
	RatePerMinute int
	Burst         int
	Health        *middleware.Checks
	Metrics       *metrics.Metrics
	Log           *zap.Logger
}

func NewRouter(svc Services, opts Options) http.Handler {
	r := &Router{
		annotations: svc.Annotations,
		detections:  svc.Detections,
		training:    svc.Training,
		log:         logger.OrNop(opts.Log).Named("httpserver"),
	}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	mux.Use(middleware.LoggingMiddleware(r.log))
	if opts.Metrics != nil {
		mux.Use(middleware.MetricsMiddleware(opts.Metrics))
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/health/live", middleware.LivenessHandler)
	mux.Get("/health/ready", middleware.ReadinessHandler(opts.Health))

	limit := func(h http.Handler) http.Handler { return h }
	if opts.RatePerMinute > 0 {
		limit = middleware.RateLimitMiddleware(middleware.NewRateLimiter(opts.RatePerMinute, opts.Burst))
	}

	mux.Route("/api", func(api chi.Router) {
		if len(opts.APIKeys) > 0 {
			api.Use(middleware.APIKeyAuth(opts.APIKeys))
		}

		api.Route("/inspections/{id}", func(rt chi.Router) {
			rt.Get("/annotations", r.wrap(r.handleListAnnotations))
			rt.Put("/annotations", r.wrap(r.handleSaveAnnotations))
			rt.Get("/annotations/log", r.wrap(r.handleAnnotationLog))
			rt.With(limit).Post("/detect", r.wrap(r.handleDetect))
			rt.Get("/detection", r.wrap(r.handleGetDetection))
			rt.Get("/detection/image", r.wrap(r.handleDetectionImage))
			rt.Delete("/artifacts", r.wrap(r.handleDeleteArtifacts))
		})
		api.Get("/export/inspection/{id}/feedback-log", r.wrap(r.handleExport))

		if r.training != nil {
			api.With(limit).Post("/training/fine-tune", r.wrap(r.handleFineTune))
			api.Get("/training/model", r.wrap(r.handleCurrentModel))
		}
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// errorBody is the JSON shape of every failed /api response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		kind := apperr.KindOf(err)
		status := statusFor(kind)
		if status >= http.StatusInternalServerError {
			r.log.Error("request failed",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Error(err))
		}
		writeJSON(w, status, errorBody{Error: err.Error(), Kind: apperr.Name(kind)})
	}
}

func statusFor(kind error) int {
	switch kind {
	case apperr.ErrInvalidArgument:
		return http.StatusBadRequest
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrConflict:
		return http.StatusConflict
	case apperr.ErrInsufficientData:
		return http.StatusUnprocessableEntity
	case apperr.ErrDetectionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, req *http.Request, op string, dst any) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		return apperr.InvalidArgument(op, "malformed request body: %v", err)
	}
	return nil
}

func inspectionID(req *http.Request, op string) (int64, error) {
	id, err := middleware.ParseInspectionID(chi.URLParam(req, "id"))
	if err != nil {
		return 0, apperr.InvalidArgument(op, "%v", err)
	}
	return id, nil
}

// GET /api/inspections/{id}/annotations
func (r *Router) handleListAnnotations(w http.ResponseWriter, req *http.Request) error {
	id, err := inspectionID(req, "http.list_annotations")
	if err != nil {
		return err
	}
	out, err := r.annotations.ListActive(req.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

type saveRequest struct {
	FinalAnnotations []annotations.Input `json:"finalAnnotations"`
}

// PUT /api/inspections/{id}/annotations
// Body: {"finalAnnotations": [...]} is the complete desired active set.
func (r *Router) handleSaveAnnotations(w http.ResponseWriter, req *http.Request) error {
	const op = "http.save_annotations"
	id, err := inspectionID(req, op)
	if err != nil {
		return err
	}
	var body saveRequest
	if err := decodeJSON(w, req, op, &body); err != nil {
		return err
	}
	for i := range body.FinalAnnotations {
		in := &body.FinalAnnotations[i]
		if err := middleware.ValidateAnnotatorID(in.UserID); err != nil {
			return apperr.InvalidArgument(op, "item %d: %v", i, err)
		}
	}

	summary, err := r.annotations.SaveAnnotations(req.Context(), appannotations.SaveCommand{
		InspectionID: id,
		Items:        body.FinalAnnotations,
		Annotator:    middleware.GetAnnotatorFromContext(req.Context()),
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, summary)
	return nil
}

// GET /api/inspections/{id}/annotations/log
func (r *Router) handleAnnotationLog(w http.ResponseWriter, req *http.Request) error {
	id, err := inspectionID(req, "http.annotation_log")
	if err != nil {
		return err
	}
	out, err := r.annotations.Logs(req.Context(), id)
	if err != nil {
		return err
	}
	if out == nil {
		out = []*annotations.LogEntry{}
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

type detectRequest struct {
	BaselineFileName string   `json:"baselineFileName"`
	Threshold        *float64 `json:"tempThresholdPercentage"`
}

// POST /api/inspections/{id}/detect
// Body: {"baselineFileName": "...", "tempThresholdPercentage": 20}
func (r *Router) handleDetect(w http.ResponseWriter, req *http.Request) error {
	const op = "http.detect"
	id, err := inspectionID(req, op)
	if err != nil {
		return err
	}
	var body detectRequest
	if err := decodeJSON(w, req, op, &body); err != nil {
		return err
	}
	body.BaselineFileName = strings.TrimSpace(body.BaselineFileName)
	if err := middleware.ValidateFileName(body.BaselineFileName); err != nil {
		return apperr.InvalidArgument(op, "baselineFileName: %v", err)
	}

	res, err := r.detections.RunDetection(req.Context(), appdetections.RunCommand{
		InspectionID:     id,
		BaselineFileName: body.BaselineFileName,
		Threshold:        body.Threshold,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

// GET /api/inspections/{id}/detection
func (r *Router) handleGetDetection(w http.ResponseWriter, req *http.Request) error {
	id, err := inspectionID(req, "http.get_detection")
	if err != nil {
		return err
	}
	res, err := r.detections.GetResult(req.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

// GET /api/inspections/{id}/detection/image
func (r *Router) handleDetectionImage(w http.ResponseWriter, req *http.Request) error {
	id, err := inspectionID(req, "http.detection_image")
	if err != nil {
		return err
	}
	path, err := r.detections.AnnotatedImagePath(req.Context(), id)
	if err != nil {
		return err
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, req, path)
	return nil
}

// DELETE /api/inspections/{id}/artifacts
func (r *Router) handleDeleteArtifacts(w http.ResponseWriter, req *http.Request) error {
	id, err := inspectionID(req, "http.delete_artifacts")
	if err != nil {
		return err
	}
	if err := r.detections.DeleteInspectionArtifacts(req.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /api/export/inspection/{id}/feedback-log
func (r *Router) handleExport(w http.ResponseWriter, req *http.Request) error {
	id, err := inspectionID(req, "http.export")
	if err != nil {
		return err
	}
	records, err := r.annotations.Export(req.Context(), id)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", appannotations.ExportFileName(id)))
	writeJSON(w, http.StatusOK, records)
	return nil
}

// POST /api/training/fine-tune
func (r *Router) handleFineTune(w http.ResponseWriter, req *http.Request) error {
	res, err := r.training.GenerateDatasetAndFineTune(req.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

// GET /api/training/model
func (r *Router) handleCurrentModel(w http.ResponseWriter, req *http.Request) error {
	reg := r.training.Registry
	if reg == nil || reg.Current() == "" {
		return apperr.NotFound("http.current_model", "no fine-tuned model promoted yet")
	}
	writeJSON(w, http.StatusOK, map[string]string{"modelName": reg.Current()})
	return nil
}

package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arjunrao/atlasfuse/pkg/fusion"
	"github.com/arjunrao/atlasfuse/pkg/observability"
	"github.com/arjunrao/atlasfuse/pkg/volume"
)

// GridJSON is the wire representation of volume.Grid.
type GridJSON struct {
	X           int        `json:"x"`
	Y           int        `json:"y"`
	Z           int        `json:"z"`
	Origin      [3]float64 `json:"origin"`
	Spacing     [3]float64 `json:"spacing"`
	Orientation [9]float64 `json:"orientation"`
}

// VolumeJSON is the wire representation of a volume.Image3D: small
// synthetic or downsampled volumes passed inline as JSON arrays (spec §1
// excludes neuroimaging file-format parsing; this is REST request
// plumbing, not a NIfTI/DICOM reader).
type VolumeJSON struct {
	Grid GridJSON  `json:"grid"`
	Data []float64 `json:"data"`
}

func (v VolumeJSON) toImage() *volume.Image3D {
	g := volume.Grid{
		X: v.Grid.X, Y: v.Grid.Y, Z: v.Grid.Z,
		Origin:      v.Grid.Origin,
		Spacing:     v.Grid.Spacing,
		Orientation: v.Grid.Orientation,
	}
	return &volume.Image3D{Grid: g, Data: v.Data}
}

func fromImage(img *volume.Image3D) VolumeJSON {
	return VolumeJSON{
		Grid: GridJSON{
			X: img.Grid.X, Y: img.Grid.Y, Z: img.Grid.Z,
			Origin:      img.Grid.Origin,
			Spacing:     img.Grid.Spacing,
			Orientation: img.Grid.Orientation,
		},
		Data: img.Data,
	}
}

// ConfigOverride lets a caller tune a subset of the engine's default
// parameters for a single job without restating every field.
type ConfigOverride struct {
	Alpha                   *float64 `json:"alpha,omitempty"`
	Beta                    *float64 `json:"beta,omitempty"`
	PenalizeAnticorrelation *bool    `json:"penalizeAnticorrelation,omitempty"`
	GenerateWeightMaps      *bool    `json:"generateWeightMaps,omitempty"`
	RetainPosteriors        *bool    `json:"retainPosteriors,omitempty"`
	UseUniqueMask           *bool    `json:"useUniqueMask,omitempty"`
	NumWorkers              *int     `json:"numWorkers,omitempty"`
}

func (o *ConfigOverride) apply(base fusion.Config) fusion.Config {
	if o == nil {
		return base
	}
	if o.Alpha != nil {
		base.Alpha = *o.Alpha
	}
	if o.Beta != nil {
		base.Beta = *o.Beta
	}
	if o.PenalizeAnticorrelation != nil {
		base.PenalizeAnticorrelation = *o.PenalizeAnticorrelation
	}
	if o.GenerateWeightMaps != nil {
		base.GenerateWeightMaps = *o.GenerateWeightMaps
	}
	if o.RetainPosteriors != nil {
		base.RetainPosteriors = *o.RetainPosteriors
	}
	if o.UseUniqueMask != nil {
		base.UseUniqueMask = *o.UseUniqueMask
	}
	if o.NumWorkers != nil {
		base.NumWorkers = *o.NumWorkers
	}
	return base
}

// JobRequest is the body of POST /v1/jobs.
type JobRequest struct {
	Target           VolumeJSON            `json:"target"`
	AtlasIntensities []VolumeJSON          `json:"atlasIntensities"`
	AtlasLabels      []VolumeJSON          `json:"atlasLabels"`
	Exclusion        map[string]VolumeJSON `json:"exclusion,omitempty"`
	Config           *ConfigOverride       `json:"config,omitempty"`
}

// JobResponse is the body returned by both POST /v1/jobs and
// GET /v1/jobs/{id}.
type JobResponse struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"` // "completed" or "failed"
	Error        string       `json:"error,omitempty"`
	DurationMS   int64        `json:"durationMs"`
	Output       *VolumeJSON  `json:"output,omitempty"`
	Labels       []int        `json:"labels,omitempty"`
	Histogram    []uint64     `json:"histogram,omitempty"`
	WeightMaps   []VolumeJSON `json:"weightMaps,omitempty"`
	SVDFallback  int64        `json:"svdFallback"`
	VoxelsFused  int64        `json:"voxelsFused"`
	VoxelsUnique int64        `json:"voxelsUnique"`
}

// JobStore keeps the most recent completed jobs in a fixed-size ring
// buffer (spec §10.4: "no persisted state"). Lookups by ID are O(1);
// once a slot is overwritten its old ID becomes unreachable.
type JobStore struct {
	mu       sync.Mutex
	records  []JobResponse
	byID     map[string]int
	cap      int
	writePos int

	totalAccepted int64
	totalFailed   int64
}

// NewJobStore creates a store retaining at most capacity job records.
func NewJobStore(capacity int) *JobStore {
	if capacity < 1 {
		capacity = 1
	}
	return &JobStore{
		records: make([]JobResponse, 0, capacity),
		byID:    make(map[string]int, capacity),
		cap:     capacity,
	}
}

// Put inserts a completed job record, evicting the oldest if full.
func (s *JobStore) Put(rec JobResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalAccepted++
	if rec.Status == "failed" {
		s.totalFailed++
	}

	if len(s.records) < s.cap {
		s.records = append(s.records, rec)
		s.byID[rec.ID] = len(s.records) - 1
		return
	}

	slot := s.writePos % s.cap
	old := s.records[slot]
	delete(s.byID, old.ID)
	s.records[slot] = rec
	s.byID[rec.ID] = slot
	s.writePos++
}

// Get retrieves a job record by ID.
func (s *JobStore) Get(id string) (JobResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return JobResponse{}, false
	}
	return s.records[idx], true
}

// Totals returns lifetime accepted/failed counts (not bounded by the ring
// buffer's retention window).
func (s *JobStore) Totals() (accepted, failed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalAccepted, s.totalFailed
}

// Handler serves the fusion control plane: job submission/retrieval,
// health, and aggregate stats. Each job runs fusion.Driver in-process —
// there is no network hop to a separate backend (see SPEC_FULL.md §12).
type Handler struct {
	fusionDefaults fusion.Config
	store          *JobStore
	metrics        *observability.Metrics
	logger         *observability.Logger
	startedAt      time.Time
	nextID         uint64
}

// NewHandler creates a Handler with the given default fusion parameters.
func NewHandler(fusionDefaults fusion.Config, store *JobStore, metrics *observability.Metrics) *Handler {
	return &Handler{
		fusionDefaults: fusionDefaults,
		store:          store,
		metrics:        metrics,
		logger:         observability.GetGlobalLogger(),
		startedAt:      time.Now(),
	}
}

func (h *Handler) newJobID() string {
	n := atomic.AddUint64(&h.nextID, 1)
	return fmt.Sprintf("job-%d-%d", time.Now().UnixNano(), n)
}

// HealthCheck handles GET /v1/health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]interface{}{
		"status":        "healthy",
		"uptimeSeconds": int64(time.Since(h.startedAt).Seconds()),
	}, http.StatusOK)
}

// GetStats handles GET /v1/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accepted, failed := h.store.Totals()
	writeJSON(w, map[string]interface{}{
		"jobsAccepted": accepted,
		"jobsFailed":   failed,
		"uptimeSeconds": int64(time.Since(h.startedAt).Seconds()),
	}, http.StatusOK)
}

// SubmitJob handles POST /v1/jobs: runs a fusion job to completion and
// returns its result (spec §5: "the engine runs to completion once
// started", so this is synchronous rather than a background queue).
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.RecordRequestError("SubmitJob", "decode_error")
		writeError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	start := time.Now()
	id := h.newJobID()

	target := req.Target.toImage()
	atlasIntensities := make([]*volume.Image3D, len(req.AtlasIntensities))
	for i, v := range req.AtlasIntensities {
		atlasIntensities[i] = v.toImage()
	}
	atlasLabels := make([]*volume.Image3D, len(req.AtlasLabels))
	for i, v := range req.AtlasLabels {
		atlasLabels[i] = v.toImage()
	}

	var exclusion *fusion.ExclusionMap
	if len(req.Exclusion) > 0 {
		masks := make(map[int]*volume.Image3D, len(req.Exclusion))
		for labelStr, v := range req.Exclusion {
			label, err := strconv.Atoi(labelStr)
			if err != nil {
				h.metrics.RecordRequestError("SubmitJob", "invalid_exclusion_label")
				writeError(w, fmt.Sprintf("invalid exclusion label %q: %v", labelStr, err), http.StatusBadRequest)
				return
			}
			masks[label] = v.toImage()
		}
		exclusion = fusion.NewExclusionMap(masks)
	}

	cfg := req.Config.apply(h.fusionDefaults)
	cfg.Metrics = h.metrics

	driver := fusion.NewDriver(cfg, target, atlasIntensities, atlasLabels, exclusion)

	ctx := r.Context()
	result, err := driver.Run(ctx)
	duration := time.Since(start)

	if err != nil {
		kind := "Unknown"
		if fe, ok := err.(*fusion.Error); ok {
			kind = fe.Kind.String()
		}
		h.metrics.RecordRunFailure(kind)
		rec := JobResponse{
			ID:         id,
			Status:     "failed",
			Error:      err.Error(),
			DurationMS: duration.Milliseconds(),
		}
		h.store.Put(rec)
		h.logger.Warn("fusion job failed", map[string]interface{}{"job_id": id, "error": err.Error()})
		writeJSON(w, rec, http.StatusUnprocessableEntity)
		return
	}

	h.metrics.RecordRun(duration, result.VoxelsFused, result.VoxelsUnique, result.SVDFallback)

	rec := JobResponse{
		ID:           id,
		Status:       "completed",
		DurationMS:   duration.Milliseconds(),
		Labels:       result.Labels.Values,
		Histogram:    result.Histogram,
		SVDFallback:  result.SVDFallback,
		VoxelsFused:  result.VoxelsFused,
		VoxelsUnique: result.VoxelsUnique,
	}
	out := fromImage(result.Output)
	rec.Output = &out
	if result.WeightMaps != nil {
		maps := make([]VolumeJSON, len(result.WeightMaps))
		for i, m := range result.WeightMaps {
			maps[i] = fromImage(m)
		}
		rec.WeightMaps = maps
	}

	h.store.Put(rec)
	h.logger.Info("fusion job completed", map[string]interface{}{
		"job_id":   id,
		"duration": duration,
	})
	writeJSON(w, rec, http.StatusCreated)
}

// GetJob handles GET /v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if id == "" || id == r.URL.Path {
		writeError(w, "missing job id", http.StatusBadRequest)
		return
	}
	rec, ok := h.store.Get(id)
	if !ok {
		writeError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rec, http.StatusOK)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode response: %v", err), http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  message,
		"status": statusCode,
	})
}

// ParseIntQuery parses an integer query parameter
func ParseIntQuery(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

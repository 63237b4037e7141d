// Package api serves the analysis HTTP surface: running new analyses,
// listing and inspecting persisted ones, and the HTML report page.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/trajectory.report/internal/analysis"
	"github.com/banshee-data/trajectory.report/internal/db"
	"github.com/banshee-data/trajectory.report/internal/geom"
	"github.com/banshee-data/trajectory.report/internal/report"
	"github.com/banshee-data/trajectory.report/internal/roadgraph"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Analyzer runs one trajectory analysis. *analysis.Engine satisfies it; a
// nil analyzer disables the POST endpoint (serve-only deployments).
type Analyzer interface {
	Analyze(ctx context.Context, trajectoryID, trajectoryWKT string) (*analysis.Result, error)
}

type Server struct {
	analyzer Analyzer
	db       *db.DB
}

func NewServer(analyzer Analyzer, database *db.DB) *Server {
	return &Server{
		analyzer: analyzer,
		db:       database,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/analyses", s.analysesHandler)
	mux.HandleFunc("/api/analysis", s.analysisHandler)
	mux.HandleFunc("/api/analysis/summary", s.showSummary)
	mux.HandleFunc("/api/analysis/report", s.showReport)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeAnalysisError maps the analysis error taxonomy onto HTTP statuses.
func (s *Server) writeAnalysisError(w http.ResponseWriter, err error) {
	var ge *geom.InvalidGeometryError
	var qt *roadgraph.QueryTimeoutError
	var qe *roadgraph.QueryError
	switch {
	case errors.As(err, &ge):
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &qt):
		s.writeJSONError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &qe):
		s.writeJSONError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, db.ErrNotFound):
		s.writeJSONError(w, http.StatusNotFound, "Analysis not found")
	default:
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// analysesHandler lists analyses (GET) and runs a new one (POST).
func (s *Server) analysesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listAnalyses(w, r)
	case http.MethodPost:
		s.runAnalysis(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

type analyzeRequest struct {
	TrajectoryID  string `json:"trajectory_id"`
	TrajectoryWKT string `json:"trajectory_wkt"`
}

func (s *Server) runAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Analysis is not enabled on this server")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TrajectoryID == "" || req.TrajectoryWKT == "" {
		s.writeJSONError(w, http.StatusBadRequest, "trajectory_id and trajectory_wkt are required")
		return
	}

	res, err := s.analyzer.Analyze(r.Context(), req.TrajectoryID, req.TrajectoryWKT)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.Printf("Failed to write analysis result: %v", err)
	}
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	trajectoryID := r.URL.Query().Get("trajectory_id")
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = v
	}

	metas, err := s.db.ListAnalyses(r.Context(), trajectoryID, limit)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}
	if metas == nil {
		metas = []db.AnalysisMeta{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(metas); err != nil {
		log.Printf("Failed to write analyses: %v", err)
	}
}

// analysisHandler fetches (GET) or deletes (DELETE) one analysis.
func (s *Server) analysisHandler(w http.ResponseWriter, r *http.Request) {
	analysisID := r.URL.Query().Get("analysis_id")
	if analysisID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'analysis_id' parameter")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a, err := s.db.GetAnalysis(r.Context(), analysisID)
		if err != nil {
			s.writeAnalysisError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(analysisResponse(a)); err != nil {
			log.Printf("Failed to write analysis: %v", err)
		}
	case http.MethodDelete:
		if err := s.db.DeleteAnalysis(r.Context(), analysisID); err != nil {
			s.writeAnalysisError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"deleted": analysisID})
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	analysisID := r.URL.Query().Get("analysis_id")
	if analysisID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'analysis_id' parameter")
		return
	}

	summary, err := s.db.GetSummary(r.Context(), analysisID)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		log.Printf("Failed to write summary: %v", err)
	}
}

func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	analysisID := r.URL.Query().Get("analysis_id")
	if analysisID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'analysis_id' parameter")
		return
	}

	summary, err := s.db.GetSummary(r.Context(), analysisID)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.Render(w, analysisID, summary); err != nil {
		log.Printf("Failed to render report: %v", err)
	}
}

// analysisView is the JSON shape of a full analysis: geometry goes out as
// WKT text, matching how it is persisted.
type analysisView struct {
	AnalysisID    string                        `json:"analysis_id"`
	TrajectoryID  string                        `json:"trajectory_id"`
	TrajectoryWKT string                        `json:"trajectory_wkt"`
	BufferWKT     string                        `json:"buffer_wkt"`
	CreatedAt     time.Time                     `json:"created_at"`
	Lanes         []laneView                    `json:"lanes"`
	Intersections []analysis.IntersectionRecord `json:"intersections"`
	Roads         []analysis.RoadRecord         `json:"roads"`
}

type laneView struct {
	analysis.LaneRecord
	LaneType string `json:"lane_type"`
	GeomWKT  string `json:"geometry,omitempty"`
}

func analysisResponse(a *analysis.Analysis) analysisView {
	view := analysisView{
		AnalysisID:    a.AnalysisID,
		TrajectoryID:  a.TrajectoryID,
		TrajectoryWKT: geom.FormatLineString(a.Trajectory),
		BufferWKT:     geom.FormatPolygon(a.Buffer),
		CreatedAt:     a.CreatedAt,
		Intersections: a.Intersections,
		Roads:         a.Roads,
	}
	for _, lane := range a.Lanes {
		lv := laneView{LaneRecord: lane, LaneType: lane.Category.String()}
		if len(lane.Geom) > 0 {
			lv.GeomWKT = geom.FormatLineString(lane.Geom)
		}
		view.Lanes = append(view.Lanes, lv)
	}
	return view
}

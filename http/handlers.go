package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"flightdelay/artifact"
	"flightdelay/db"
	"flightdelay/flight"
	"flightdelay/schema"
)

// recentRuns is how many training runs /api/model reports.
const recentRuns = 10

func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("POST /predict", s.handlePredict)
	mux.HandleFunc("GET /api/model", s.handleModel)
	mux.Handle("GET /metrics", s.metrics.Handler())
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "detail": "your request was received"})
}

type flightInput struct {
	Opera     string `json:"OPERA"`
	TipoVuelo string `json:"TIPOVUELO"`
	Mes       int    `json:"MES"`
}

type predictRequest struct {
	Flights []flightInput `json:"flights"`
}

type predictResponse struct {
	Predict []int     `json:"predict"`
	Proba   []float64 `json:"proba,omitempty"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	withProba := false
	if v := r.URL.Query().Get("proba"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid proba flag %q", v))
			return
		}
		withProba = parsed
	}

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.Flights == nil {
		writeError(w, http.StatusBadRequest, "flights is required")
		return
	}

	records := make([]flight.Record, len(req.Flights))
	for i, f := range req.Flights {
		records[i] = flight.Record{Carrier: f.Opera, FlightType: f.TipoVuelo, Month: f.Mes}
	}

	labels, proba, err := s.predict(records)
	if err != nil {
		s.logger.Error("prediction failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Int("flights", len(records)),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.ObservePredictions(labels)

	if s.config.LogPredictions {
		if err := db.SavePredictions(s.predictor.Version(), records, labels, proba); err != nil {
			s.logger.Warn("record predictions", zap.Error(err))
		}
	}

	resp := predictResponse{Predict: labels}
	if withProba {
		resp.Proba = proba
	}
	writeJSON(w, http.StatusOK, resp)
}

// predict serves cached records from the cache and runs the bundle on the rest, keeping
// input order.
func (s *Server) predict(records []flight.Record) ([]int, []float64, error) {
	labels := make([]int, len(records))
	proba := make([]float64, len(records))
	version := s.predictor.Version()

	var missIdx []int
	var misses []flight.Record
	for i, rec := range records {
		if p, ok := s.cache.get(version, rec); ok {
			labels[i], proba[i] = p.label, p.proba
			continue
		}
		missIdx = append(missIdx, i)
		misses = append(misses, rec)
	}
	if s.cache != nil {
		s.metrics.ObserveCache(len(records)-len(misses), len(misses))
	}
	if len(misses) == 0 {
		return labels, proba, nil
	}

	missLabels, err := s.predictor.Predict(misses)
	if err != nil {
		return nil, nil, err
	}
	missProba, err := s.predictor.PredictProba(misses)
	if err != nil {
		return nil, nil, err
	}
	if len(missLabels) != len(misses) || len(missProba) != len(misses) {
		return nil, nil, fmt.Errorf("model returned %d labels and %d probabilities for %d flights",
			len(missLabels), len(missProba), len(misses))
	}

	for j, i := range missIdx {
		labels[i], proba[i] = missLabels[j], missProba[j]
		s.cache.add(version, records[i], prediction{label: missLabels[j], proba: missProba[j]})
	}
	return labels, proba, nil
}

type modelResponse struct {
	artifact.Metadata
	Columns    []string                `json:"columns"`
	References map[schema.Field]string `json:"references,omitempty"`
	Runs       []db.TrainingLog        `json:"runs"`
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	sch := s.predictor.Schema()
	resp := modelResponse{
		Metadata:   s.predictor.Metadata(),
		Columns:    sch.Columns,
		References: sch.References,
		Runs:       []db.TrainingLog{},
	}

	runs, err := db.LoadTrainingLog(recentRuns)
	if err != nil {
		s.logger.Warn("load training log", zap.Error(err))
	} else {
		resp.Runs = runs
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

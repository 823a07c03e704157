package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"flightdelay/artifact"
	"flightdelay/db"
	"flightdelay/flight"
	"flightdelay/schema"
)

type fakePredictor struct {
	version string
	calls   atomic.Int32
	err     error
}

func (f *fakePredictor) Version() string { return f.version }

func (f *fakePredictor) Metadata() artifact.Metadata {
	return artifact.Metadata{
		Version:        f.version,
		SchemaVersion:  schema.CanonicalVersion,
		ClassifierKind: "gbdt",
		CreatedAt:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakePredictor) Schema() *schema.Schema { return schema.Canonical() }

// Predict flags Sky Airline flights as delayed.
func (f *fakePredictor) Predict(records []flight.Record) ([]int, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]int, len(records))
	for i, r := range records {
		if schema.CanonicalCarrier(r.Carrier) == "Sky Airline" {
			out[i] = 1
		}
	}
	return out, nil
}

func (f *fakePredictor) PredictProba(records []flight.Record) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = 0.2
		if schema.CanonicalCarrier(r.Carrier) == "Sky Airline" {
			out[i] = 0.8
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, config ServerConfig, p Predictor) *Server {
	t.Helper()
	s, err := NewServer(config, p)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

func post(t *testing.T, h http.Handler, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
}

const twoFlights = `{"flights":[
	{"OPERA":"Sky Airline","TIPOVUELO":"I","MES":7},
	{"OPERA":"Aerolineas Argentinas","TIPOVUELO":"N","MES":3}
]}`

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(handleHealth)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `{"detail":"your request was received","status":"OK"}`
	if rr.Body.String() != expected+"\n" && rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestHandlePredict(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig(), &fakePredictor{version: "v1"})

	w := post(t, s.Handler(), "/predict", twoFlights)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"predict":[1,0]}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestHandlePredictEmpty(t *testing.T) {
	p := &fakePredictor{version: "v1"}
	s := newTestServer(t, DefaultServerConfig(), p)

	w := post(t, s.Handler(), "/predict", `{"flights":[]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"predict":[]}` {
		t.Fatalf("unexpected body %s", got)
	}
	if p.calls.Load() != 0 {
		t.Fatalf("empty batch should not reach the model")
	}
}

func TestHandlePredictProba(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig(), &fakePredictor{version: "v1"})

	w := post(t, s.Handler(), "/predict?proba=true", twoFlights)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp predictResponse
	decode(t, w, &resp)
	if len(resp.Proba) != 2 || resp.Proba[0] != 0.8 || resp.Proba[1] != 0.2 {
		t.Fatalf("unexpected probabilities %v", resp.Proba)
	}

	w = post(t, s.Handler(), "/predict?proba=maybe", twoFlights)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad flag, got %d", w.Code)
	}
}

func TestHandlePredictBadRequest(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig(), &fakePredictor{version: "v1"})

	cases := map[string]string{
		"malformed":       `{"flights":[`,
		"missing flights": `{"vuelos":[]}`,
		"wrong type":      `{"flights":[{"OPERA":"Sky Airline","TIPOVUELO":"I","MES":"julio"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := post(t, s.Handler(), "/predict", body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			var resp map[string]string
			decode(t, w, &resp)
			if resp["detail"] == "" {
				t.Fatalf("expected detail message, got %v", resp)
			}
		})
	}
}

func TestHandlePredictModelFailure(t *testing.T) {
	p := &fakePredictor{version: "v1", err: errors.New("pipeline not fitted")}
	s := newTestServer(t, DefaultServerConfig(), p)

	w := post(t, s.Handler(), "/predict", twoFlights)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var resp map[string]string
	decode(t, w, &resp)
	if resp["detail"] != "pipeline not fitted" {
		t.Fatalf("expected fault message, got %v", resp)
	}
}

func TestHandlePredictBodyTooLarge(t *testing.T) {
	config := DefaultServerConfig()
	config.MaxBodyBytes = 16
	s := newTestServer(t, config, &fakePredictor{version: "v1"})

	w := post(t, s.Handler(), "/predict", twoFlights)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestPredictionCache(t *testing.T) {
	p := &fakePredictor{version: "v1"}
	s := newTestServer(t, DefaultServerConfig(), p)

	body := `{"flights":[
		{"OPERA":"Sky Airline","TIPOVUELO":"I","MES":7},
		{"OPERA":" Sky Airline ","TIPOVUELO":"i","MES":7}
	]}`
	w := post(t, s.Handler(), "/predict", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if p.calls.Load() != 1 {
		t.Fatalf("expected 1 model call, got %d", p.calls.Load())
	}
	if s.cache.len() != 1 {
		t.Fatalf("expected equivalent records to share an entry, got %d", s.cache.len())
	}

	w = post(t, s.Handler(), "/predict", body)
	if strings.TrimSpace(w.Body.String()) != `{"predict":[1,1]}` {
		t.Fatalf("unexpected cached body %s", w.Body.String())
	}
	if p.calls.Load() != 1 {
		t.Fatalf("expected cache hit, model called %d times", p.calls.Load())
	}

	p.version = "v2"
	post(t, s.Handler(), "/predict", body)
	if p.calls.Load() != 2 {
		t.Fatalf("new bundle version must not read old entries")
	}
}

func TestPredictionCacheDisabled(t *testing.T) {
	config := DefaultServerConfig()
	config.CacheSize = 0
	p := &fakePredictor{version: "v1"}
	s := newTestServer(t, config, p)

	post(t, s.Handler(), "/predict", twoFlights)
	post(t, s.Handler(), "/predict", twoFlights)
	if p.calls.Load() != 2 {
		t.Fatalf("expected every request to reach the model, got %d calls", p.calls.Load())
	}
}

func TestHandlePredictLogsPredictions(t *testing.T) {
	config := DefaultServerConfig()
	config.LogPredictions = true
	s := newTestServer(t, config, &fakePredictor{version: "logged-v1"})

	post(t, s.Handler(), "/predict", twoFlights)

	n, err := db.CountPredictions("logged-v1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 logged predictions, got %d", n)
	}
}

func TestHandleModel(t *testing.T) {
	if err := db.SaveTrainingLog(db.TrainingLog{Version: "model-v1", ModelName: "gbdt", F1: 0.31}); err != nil {
		t.Fatalf("save training log: %v", err)
	}
	s := newTestServer(t, DefaultServerConfig(), &fakePredictor{version: "model-v1"})

	req := httptest.NewRequest(http.MethodGet, "/api/model", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Version       string            `json:"version"`
		SchemaVersion string            `json:"schema_version"`
		Columns       []string          `json:"columns"`
		References    map[string]string `json:"references"`
		Runs          []db.TrainingLog  `json:"runs"`
	}
	decode(t, w, &resp)
	if resp.Version != "model-v1" || resp.SchemaVersion != schema.CanonicalVersion {
		t.Fatalf("unexpected metadata %+v", resp)
	}
	if len(resp.Columns) != schema.Canonical().Width() {
		t.Fatalf("expected %d columns, got %d", schema.Canonical().Width(), len(resp.Columns))
	}
	if resp.References["TIPOVUELO"] != "N" {
		t.Fatalf("unexpected references %v", resp.References)
	}
	if len(resp.Runs) == 0 || resp.Runs[0].Version != "model-v1" {
		t.Fatalf("expected latest training run, got %+v", resp.Runs)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig(), &fakePredictor{version: "v1"})
	post(t, s.Handler(), "/predict", twoFlights)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`flightdelay_predictions_total{label="1"} 1`,
		`flightdelay_http_requests_total{code="200",method="POST",route="POST /predict"} 1`,
		`flightdelay_model_info{classifier_kind="gbdt",schema_version="top10-v1",version="v1"} 1`,
		`flightdelay_prediction_cache_lookups_total{result="miss"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNewServerRequiresPredictor(t *testing.T) {
	if _, err := NewServer(DefaultServerConfig(), nil); err == nil {
		t.Fatalf("expected error without predictor")
	}
}

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "flightdelay-http")
	if err != nil {
		panic(err)
	}
	if err := db.InitDB(filepath.Join(dir, "test.db")); err != nil {
		panic(err)
	}

	code := m.Run()

	db.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"churnsight/db"
	"churnsight/ml"
	"churnsight/risk"
	"churnsight/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticArtifacts struct {
	artifacts *ml.Artifacts
	err       error
}

func (s staticArtifacts) Current() (*ml.Artifacts, error) {
	return s.artifacts, s.err
}

type memoryLog struct {
	mu      sync.Mutex
	records []db.PredictionRecord
	saveErr error
}

func (m *memoryLog) Save(ctx context.Context, rec *db.PredictionRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, *rec)
	return nil
}

func (m *memoryLog) Recent(ctx context.Context, limit int) ([]db.PredictionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.PredictionRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *memoryLog) CountByLevel(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, rec := range m.records {
		counts[rec.RiskLevel]++
	}
	return counts, nil
}

func loadArtifacts(t *testing.T) *ml.Artifacts {
	t.Helper()
	artifacts, err := ml.LoadArtifacts("gbtree",
		filepath.Join("..", "models", "churn_model.json"),
		filepath.Join("..", "models", "model_features.json"))
	require.NoError(t, err)
	return artifacts
}

type testServer struct {
	handler http.Handler
	log     *memoryLog
	cookie  *http.Cookie
}

func newTestServer(t *testing.T, source ArtifactSource) *testServer {
	t.Helper()
	log := &memoryLog{}
	cfg := DefaultServerConfig()
	cfg.RateLimit = 0
	srv, err := NewServer(cfg, Deps{
		Artifacts:   source,
		Sessions:    session.NewStore(16, 0),
		Predictions: log,
	})
	require.NoError(t, err)
	return &testServer{handler: srv.Handler(), log: log}
}

// do sends the request with the session cookie of earlier responses.
func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	if ts.cookie != nil {
		req.AddCookie(ts.cookie)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		if c.Name == DefaultServerConfig().CookieName {
			ts.cookie = c
		}
	}
	return rr
}

func (ts *testServer) predictJSON(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return ts.do(req)
}

const highRiskBody = `{"numeric":{"Sales":500,"Profit":-20,"risk_score":0.8},"selections":{"Region":"EMEA","Segment":"SMB"}}`

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})
	rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, float64(21), payload["features"])
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
}

func TestHealthWithoutModel(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{err: ml.ErrModelNotLoaded})
	rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = ts.predictJSON(t, highRiskBody)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSchemaHandler(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})
	rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/schema", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var payload struct {
		Features []string    `json:"features"`
		Numeric  []string    `json:"numeric"`
		Groups   []groupView `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Len(t, payload.Features, 21)
	assert.Equal(t, ml.DefaultNumericFeatures(), payload.Numeric)
	require.Len(t, payload.Groups, 4)
	assert.Equal(t, ml.GroupRegion, payload.Groups[0].Name)
	assert.Equal(t, []string{"APJ", "EMEA"}, payload.Groups[0].Options)
}

func TestAPIPredict(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})
	rr := ts.predictJSON(t, highRiskBody)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotNil(t, ts.cookie)

	var payload predictionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, risk.High, payload.Level)
	assert.Equal(t, "High Risk", payload.Label)
	assert.InDelta(t, 500*payload.Probability, payload.RevenueAtRisk, 1e-9)
	assert.Equal(t, risk.Percent(payload.Probability), payload.Percent)
	assert.Equal(t, 1, payload.SessionPredictions)

	require.Len(t, ts.log.records, 1)
	rec := ts.log.records[0]
	assert.Equal(t, ts.cookie.Value, rec.SessionID)
	assert.Equal(t, "High", rec.RiskLevel)
	assert.Equal(t, "EMEA", rec.Region)
	assert.Equal(t, "SMB", rec.Segment)
}

func TestAPIPredictRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})

	rr := ts.predictJSON(t, `{"numeric":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.predictJSON(t, `{"numbers":{"Sales":1}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.predictJSON(t, `{"selections":{"Industry":"Mining"}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown category")
	assert.Empty(t, ts.log.records)
}

func TestAPIPredictRejectsUnknownNames(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})

	rr := ts.predictJSON(t, `{"numeric":{"sales":500,"Risk_Score":0.8}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown feature")

	rr = ts.predictJSON(t, `{"numeric":{"Sales":500},"selections":{"Segmnt":"SMB"}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown category")

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/session/history", nil))
	var hist historyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hist))
	assert.Zero(t, hist.Count)
	assert.Empty(t, ts.log.records)
}

func TestPredictionLogFailureDoesNotFailRequest(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})
	ts.log.saveErr = errors.New("disk full")
	rr := ts.predictJSON(t, highRiskBody)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSessionHistory(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/session/history", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var hist historyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hist))
	assert.True(t, hist.IsDefault)
	assert.Equal(t, risk.DefaultDistribution, hist.Distribution)
	assert.Zero(t, hist.Count)

	ts.predictJSON(t, highRiskBody)
	ts.predictJSON(t, `{"numeric":{"Sales":100}}`)
	ts.predictJSON(t, highRiskBody)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/session/history", nil))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hist))
	assert.False(t, hist.IsDefault)
	assert.Equal(t, 3, hist.Count)
	assert.Equal(t, 3, hist.Distribution.Total())
	assert.Equal(t, 2, hist.Distribution.High)

	rr = ts.do(httptest.NewRequest(http.MethodDelete, "/api/session/history", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/session/history", nil))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hist))
	assert.True(t, hist.IsDefault)
}

func TestSessionsAreIsolated(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})
	ts.predictJSON(t, highRiskBody)

	other := &testServer{handler: ts.handler}
	rr := other.do(httptest.NewRequest(http.MethodGet, "/api/session/history", nil))
	var hist historyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hist))
	assert.Zero(t, hist.Count)
	assert.NotEqual(t, ts.cookie.Value, other.cookie.Value)
}

func TestAPIExplain(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/explain", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	ts.predictJSON(t, highRiskBody)
	rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/explain?top=2", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var x explanationResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &x))
	assert.Len(t, x.Contributions, 2)
	assert.Equal(t, "risk_score", x.Contributions[0].Feature)
	require.NotEmpty(t, x.Waterfall)
	assert.InDelta(t, x.BaseValue, x.Waterfall[0].Start, 1e-12)
	assert.InDelta(t, x.Margin, x.Waterfall[len(x.Waterfall)-1].End, 1e-9)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/explain?top=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRevenueAtRisk(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/revenue-at-risk", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, 2000.0, payload["revenue_at_risk"])
	assert.Equal(t, "$2,000.00", payload["display"])

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/revenue-at-risk?revenue=0&churn=50", nil))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, 0.0, payload["revenue_at_risk"])

	for _, q := range []string{"churn=101", "churn=-1", "churn=abc", "revenue=lots",
		"revenue=NaN&churn=20", "revenue=Inf&churn=20", "revenue=-5000&churn=20"} {
		rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/revenue-at-risk?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
		assert.Contains(t, rr.Body.String(), `"error"`, q)
	}

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/?revenue=NaN&churn=20", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.NotContains(t, rr.Body.String(), "NaN</strong>")
	assert.Contains(t, rr.Body.String(), "$2,000.00")
}

func TestRespondJSONUnencodable(t *testing.T) {
	rr := httptest.NewRecorder()
	respondJSON(rr, http.StatusOK, map[string]float64{"revenue": math.NaN()})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rr.Body.String())
}

func TestRecentPredictions(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})
	ts.predictJSON(t, highRiskBody)
	ts.predictJSON(t, `{"numeric":{"Sales":100}}`)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/predictions/recent?limit=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var payload struct {
		Predictions []db.PredictionRecord `json:"predictions"`
		Count       int                   `json:"count"`
		ByLevel     map[string]int        `json:"by_level"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, 1, payload.Count)
	assert.Equal(t, map[string]int{"High": 1, "Low": 1}, payload.ByLevel)
	assert.Equal(t, 100.0, payload.Predictions[0].Sales)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/api/predictions/recent?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRecentPredictionsDisabled(t *testing.T) {
	srv, err := NewServer(DefaultServerConfig(), Deps{
		Artifacts: staticArtifacts{artifacts: loadArtifacts(t)},
		Sessions:  session.NewStore(4, 0),
	})
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/predictions/recent", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPages(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Customer Churn Dashboard")
	assert.Contains(t, body, "0.89")
	assert.Contains(t, body, "Active")
	assert.Contains(t, body, "Sample distribution")
	assert.Contains(t, body, "Annual revenue ($)")
	assert.Contains(t, body, "$2,000.00")

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/?revenue=5000&churn=10", nil))
	assert.Contains(t, rr.Body.String(), "$500.00")

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/predict", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `name="risk_score"`)
	assert.Contains(t, rr.Body.String(), `<option value="EMEA"`)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/explain", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Make a prediction first")

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPredictForm(t *testing.T) {
	ts := newTestServer(t, staticArtifacts{artifacts: loadArtifacts(t)})

	form := url.Values{
		"Sales":      {"500"},
		"Profit":     {"-20"},
		"risk_score": {"0.8"},
		"Region":     {"EMEA"},
		"Segment":    {"SMB"},
	}
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := ts.do(req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "High Risk")

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotContains(t, rr.Body.String(), "Sample distribution")

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/explain", nil))
	assert.Contains(t, rr.Body.String(), "risk_score")
	assert.Contains(t, rr.Body.String(), "Region_EMEA")

	bad := url.Values{"Sales": {"a lot"}}
	req = httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(bad.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = ts.do(req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Sales must be a number")
}

func TestParseCustomerForm(t *testing.T) {
	schema := loadArtifacts(t).Schema
	input, err := parseCustomerForm(schema, url.Values{
		"Sales":    {" 1200.5 "},
		"Discount": {""},
		"Industry": {"Tech"},
		"Segment":  {""},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Sales": 1200.5}, input.Numeric)
	assert.Equal(t, map[string]string{"Industry": "Tech"}, input.Selections)

	_, err = parseCustomerForm(schema, url.Values{"Profit": {"NaN"}})
	assert.Error(t, err)
}

func TestPieStyle(t *testing.T) {
	style := string(pieStyle(risk.DefaultDistribution.Slices()))
	assert.Equal(t, "background: conic-gradient(#2e9e5b 0.0% 50.0%, #e0a526 50.0% 80.0%, #d64541 80.0% 100.0%)", style)
	assert.Equal(t, "background: #ddd", string(pieStyle(risk.Distribution{}.Slices())))
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trackscan/internal/broadcast"
	"github.com/banshee-data/trackscan/internal/db"
	"github.com/banshee-data/trackscan/internal/speed"
	"github.com/banshee-data/trackscan/internal/testutil"
)

var ignoreTimes = cmpopts.IgnoreFields(db.Point{}, "CreatedAt", "UpdatedAt")

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodePoint(t *testing.T, rec *httptest.ResponseRecorder) db.Point {
	t.Helper()
	var p db.Point
	testutil.DecodeJSON(t, rec, &p)
	return p
}

func TestAppendAlerts_CreateThenMerge(t *testing.T) {
	env := setupTestServer(t)
	_, events := env.hub.Subscribe(broadcast.TopicAlerts)

	rec := env.do(t, http.MethodPost, "/api/points/alerts", `{"pt": 0.5, "alerts": [{"label": "LidarGap", "value": 3}]}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)
	first := decodePoint(t, rec)

	rec = env.do(t, http.MethodPost, "/api/points/alerts", `{"pt": "0.5", "alert": {"label": "CameraFlag", "value": 1}}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	got := decodePoint(t, rec)

	want := db.Point{
		ID:           first.ID,
		Pt:           0.5,
		Alerts:       []db.Entry{{Label: "LidarGap", Value: 3}, {Label: "CameraFlag", Value: 1}},
		Instructions: []db.Entry{},
		Status:       db.StatusIgnore,
	}
	if diff := cmp.Diff(want, got, ignoreTimes); diff != "" {
		t.Errorf("merged point mismatch (-want +got):\n%s", diff)
	}

	for _, label := range []string{"LidarGap", "CameraFlag"} {
		select {
		case payload := <-events:
			var ev broadcast.AlertEvent
			require.NoError(t, json.Unmarshal(payload, &ev))
			assert.Equal(t, "alert", ev.Type)
			assert.Equal(t, 0.5, ev.Pt)
			assert.Equal(t, label, ev.Alert.Label)
			assert.NotEmpty(t, ev.Timestamp)
		case <-time.After(time.Second):
			t.Fatalf("no alert event for %s", label)
		}
	}
}

func TestAppendAlerts_WrappedShapes(t *testing.T) {
	env := setupTestServer(t)

	bodies := []string{
		`{"pt": 1.2, "alerts": {"data": [{"label": "a", "value": 1}]}}`,
		`{"pt": 1.2, "payload": {"label": "b", "value": 2}}`,
		`{"pt": 1.2, "values": [{"label": "c", "value": 3}]}`,
	}
	for _, body := range bodies {
		rec := env.do(t, http.MethodPost, "/api/points/alerts", body)
		require.Contains(t, []int{http.StatusCreated, http.StatusOK}, rec.Code, rec.Body.String())
	}

	p, err := env.db.LatestPointAt(context.Background(), 1.2)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, []db.Entry{{Label: "a", Value: 1}, {Label: "b", Value: 2}, {Label: "c", Value: 3}}, p.Alerts)
}

func TestAppendAlerts_RejectedBeforeStore(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing label", `{"pt": 0.3, "alerts": [{"value": 4}]}`, "alerts: entry 0: label is required"},
		{"second element bad", `{"pt": 0.3, "alerts": [{"label": "ok", "value": 1}, {"label": "x", "value": "high"}]}`, "entry 1: value must be a number"},
		{"empty label", `{"pt": 0.3, "alerts": [{"label": "  ", "value": 1}]}`, "label must not be empty"},
		{"empty list", `{"pt": 0.3, "alerts": []}`, "at least one entry"},
		{"no alerts", `{"pt": 0.3}`, "alerts is required"},
		{"bad pt", `{"pt": "north", "alerts": [{"label": "a", "value": 1}]}`, "pt must be a number"},
		{"missing pt", `{"alerts": [{"label": "a", "value": 1}]}`, "pt must be a number"},
		{"scalar payload", `{"pt": 0.3, "alerts": 7}`, "alerts must be"},
		{"unknown wrapper", `{"pt": 0.3, "alerts": {"items": []}}`, "alerts must be"},
		{"not an object", `[1, 2]`, "body must be a JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/points/alerts", tt.body)
			testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
			testutil.AssertErrorContains(t, rec, tt.wantErr)
		})
	}

	points, err := env.db.ListPoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestDecide_EndToEnd(t *testing.T) {
	env := setupTestServer(t)
	env.classifier.AddResponse(http.StatusOK, `{"sample_id":"s1","decision":"PROCEED","score":0.91}`)

	rec := env.do(t, http.MethodPost, "/api/points/instructions", `{"pt": 0.3, "instructions": [{"label": "GPRRating", "value": 82}]}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)

	rec = env.do(t, http.MethodPost, "/api/tamping/decision", `{"pt": 0.3}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var res map[string]interface{}
	testutil.DecodeJSON(t, rec, &res)
	assert.Equal(t, map[string]interface{}{
		"sample_id": "s1",
		"decision":  "PROCEED",
		"score":     0.91,
		"pt":        0.3,
	}, res)

	rec = env.do(t, http.MethodGet, "/api/points/fetch/0.3", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	p := decodePoint(t, rec)
	require.Len(t, p.Instructions, 2)
	audit := p.Instructions[1]
	assert.Equal(t, db.DecisionLabel, audit.Label)
	assert.Equal(t, 1.0, audit.Value)
	require.NotNil(t, audit.DecisionAudit)
	assert.Equal(t, db.StatusProceed, audit.Decision)
	assert.Equal(t, 0.91, audit.Score)
}

func TestDecide_Errors(t *testing.T) {
	t.Run("non numeric pt", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodPost, "/api/tamping/decision", `{"pt": "abc"}`)
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
		testutil.AssertErrorContains(t, rec, "pt must be a number")
		assert.Equal(t, 0, env.classifier.RequestCount())
	})

	t.Run("upstream failure is a bad gateway", func(t *testing.T) {
		env := setupTestServer(t)
		env.classifier.AddResponse(http.StatusInternalServerError, `{"detail":"model offline"}`)

		rec := env.do(t, http.MethodPost, "/api/tamping/decision", `{"pt": 0.7}`)
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadGateway)

		points, err := env.db.ListPoints(context.Background())
		require.NoError(t, err)
		assert.Empty(t, points)
	})

	t.Run("contract violation is a bad gateway", func(t *testing.T) {
		env := setupTestServer(t)
		env.classifier.AddResponse(http.StatusOK, `{"sample_id":"s2","decision":"MAYBE","score":0.5}`)

		rec := env.do(t, http.MethodPost, "/api/tamping/decision", `{"pt": 0.7}`)
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadGateway)
	})
}

func TestDecide_AutoModeAppliesSuggestedSpeed(t *testing.T) {
	env := setupTestServer(t)
	env.speed.SetAutoMode(true)
	env.classifier.AddResponse(http.StatusOK, `{"sample_id":"s3","decision":"IGNORE","score":0.2,"fallback":true,"suggested_speed_kmh":4}`)

	rec := env.do(t, http.MethodPost, "/api/tamping/decision", `{"pt": 2.1}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, 4.0, env.speed.State().AnalysisSpeedKmh)

	p, err := env.db.LatestPointAt(context.Background(), 2.1)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Len(t, p.Instructions, 1)
	assert.Equal(t, 0.0, p.Instructions[0].Value)
	assert.True(t, p.Instructions[0].Fallback)
}

func TestFeedback(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		env := setupTestServer(t)
		env.classifier.AddResponse(http.StatusOK, `{"status":"ok"}`)

		rec := env.do(t, http.MethodPost, "/api/tamping/feedback", `{"sampleId": "s1", "label": "IGNORE"}`)
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
		var body map[string]string
		testutil.DecodeJSON(t, rec, &body)
		assert.Equal(t, "updated", body["status"])

		require.Equal(t, 1, env.classifier.RequestCount())
		assert.JSONEq(t, `{"sample_id":"s1","label":"IGNORE"}`, string(env.classifier.GetBody(0)))
		assert.True(t, strings.HasSuffix(env.classifier.GetRequest(0).URL.Path, "/feedback"))
	})

	t.Run("snake case id", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(t, http.MethodPost, "/api/tamping/feedback", `{"sample_id": "s9", "label": "PROCEED"}`)
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	})

	t.Run("unknown sample", func(t *testing.T) {
		env := setupTestServer(t)
		env.classifier.AddResponse(http.StatusNotFound, `{"detail":"Unknown sample id"}`)

		rec := env.do(t, http.MethodPost, "/api/tamping/feedback", `{"sampleId": "nope", "label": "PROCEED"}`)
		testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
		testutil.AssertErrorContains(t, rec, "Unknown sample id")
	})

	invalid := []struct {
		name string
		body string
	}{
		{"missing id", `{"label": "PROCEED"}`},
		{"blank id", `{"sampleId": " ", "label": "PROCEED"}`},
		{"missing label", `{"sampleId": "s1"}`},
		{"bad label", `{"sampleId": "s1", "label": "proceed-ish"}`},
		{"numeric label", `{"sampleId": "s1", "label": 1}`},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t)
			rec := env.do(t, http.MethodPost, "/api/tamping/feedback", tt.body)
			testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
			assert.Equal(t, 0, env.classifier.RequestCount())
		})
	}
}

func TestSummary(t *testing.T) {
	env := setupTestServer(t)
	env.classifier.
		AddResponse(http.StatusOK, `{"sample_id":"a","decision":"PROCEED","score":0.9}`).
		AddResponse(http.StatusOK, `{"sample_id":"b","decision":"IGNORE","score":0.3}`)

	for _, pt := range []string{"0.1", "0.2"} {
		rec := env.do(t, http.MethodPost, "/api/tamping/decision", `{"pt": `+pt+`}`)
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	}

	rec := env.do(t, http.MethodGet, "/api/tamping/summary", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var sum map[string]float64
	testutil.DecodeJSON(t, rec, &sum)
	assert.Equal(t, 2.0, sum["count"])
	assert.Equal(t, 1.0, sum["proceed"])
	assert.Equal(t, 0.5, sum["proceedRatio"])
	assert.InDelta(t, 0.6, sum["meanScore"], 1e-9)
}

func TestSpeed(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/speed", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var st speed.State
	testutil.DecodeJSON(t, rec, &st)
	assert.Equal(t, speed.State{AnalysisSpeedKmh: 2, TampingSpeedKmh: 1.8, AutoMode: false}, st)

	rec = env.do(t, http.MethodPost, "/api/speed", `{"mode": "auto"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	testutil.DecodeJSON(t, rec, &st)
	assert.True(t, st.AutoMode)

	rec = env.do(t, http.MethodPost, "/api/speed", `{"mode": "manual", "analysisSpeedKmh": 10}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	testutil.DecodeJSON(t, rec, &st)
	assert.Equal(t, 6.0, st.AnalysisSpeedKmh)
	assert.LessOrEqual(t, st.TampingSpeedKmh, 6.0)
	assert.False(t, st.AutoMode, "manual speeds leave auto mode")

	rec = env.do(t, http.MethodPost, "/api/speed", `{"mode": "manual", "analysisSpeedKmh": "3", "tampingSpeedKmh": 2.5}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	testutil.DecodeJSON(t, rec, &st)
	assert.Equal(t, speed.State{AnalysisSpeedKmh: 3, TampingSpeedKmh: 2.5, AutoMode: false}, st)

	invalid := []struct {
		body    string
		wantErr string
	}{
		{`{"mode": "turbo"}`, "mode must be either"},
		{`{}`, "mode must be either"},
		{`{"mode": "manual"}`, "analysisSpeedKmh must be provided"},
		{`{"mode": "manual", "analysisSpeedKmh": "fast"}`, "analysisSpeedKmh must be provided"},
		{`{"mode": "manual", "analysisSpeedKmh": 2, "tampingSpeedKmh": "x"}`, "tampingSpeedKmh"},
	}
	for _, tt := range invalid {
		rec := env.do(t, http.MethodPost, "/api/speed", tt.body)
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
		testutil.AssertErrorContains(t, rec, tt.wantErr)
	}
	assert.Equal(t, speed.State{AnalysisSpeedKmh: 3, TampingSpeedKmh: 2.5, AutoMode: false}, env.speed.State())
}

func TestPointsCRUD(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/points", `{"pt": 4.2, "alerts": [{"label": "x", "value": 1}], "status": "proceed"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)
	created := decodePoint(t, rec)
	assert.Equal(t, db.StatusProceed, created.Status)
	assert.Equal(t, []db.Entry{}, created.Instructions)

	id := jsonID(created.ID)

	rec = env.do(t, http.MethodGet, "/api/points/"+id, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if diff := cmp.Diff(created, decodePoint(t, rec), ignoreTimes); diff != "" {
		t.Errorf("get mismatch (-want +got):\n%s", diff)
	}

	rec = env.do(t, http.MethodPut, "/api/points/"+id, `{"status": "IGNORE", "instructions": [{"label": "lift", "value": 12}]}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	updated := decodePoint(t, rec)
	assert.Equal(t, db.StatusIgnore, updated.Status)
	assert.Equal(t, []db.Entry{{Label: "lift", Value: 12}}, updated.Instructions)
	assert.Equal(t, created.Alerts, updated.Alerts)

	rec = env.do(t, http.MethodGet, "/api/points", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var list []db.Point
	testutil.DecodeJSON(t, rec, &list)
	assert.Len(t, list, 1)

	rec = env.do(t, http.MethodDelete, "/api/points/"+id, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNoContent)

	rec = env.do(t, http.MethodGet, "/api/points/"+id, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	testutil.AssertErrorContains(t, rec, "Point not found")

	rec = env.do(t, http.MethodDelete, "/api/points/"+id, nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = env.do(t, http.MethodPut, "/api/points/"+id, `{"status": "IGNORE"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestPointsValidation(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		wantErr string
	}{
		{"bad id", http.MethodGet, "/api/points/abc", "", "Invalid point id"},
		{"zero id", http.MethodGet, "/api/points/0", "", "Invalid point id"},
		{"create without pt", http.MethodPost, "/api/points", `{"alerts": []}`, "pt must be a number"},
		{"create with object alerts", http.MethodPost, "/api/points", `{"pt": 1, "alerts": {"label": "a", "value": 1}}`, "alerts must be an array"},
		{"create with bad entry", http.MethodPost, "/api/points", `{"pt": 1, "instructions": [{"label": "a"}]}`, "instructions: entry 0: value is required"},
		{"create with bad status", http.MethodPost, "/api/points", `{"pt": 1, "status": "MAYBE"}`, "status must be either IGNORE or PROCEED"},
		{"update nothing", http.MethodPut, "/api/points/1", `{}`, "No fields provided to update"},
		{"update bad pt", http.MethodPut, "/api/points/1", `{"pt": "x"}`, "pt must be a number"},
		{"fetch bad pt", http.MethodGet, "/api/points/fetch/nan", "", "pt must be a number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body interface{}
			if tt.body != "" {
				body = tt.body
			}
			rec := env.do(t, tt.method, tt.path, body)
			testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
			testutil.AssertErrorContains(t, rec, tt.wantErr)
		})
	}

	rec := env.do(t, http.MethodGet, "/api/points/fetch/9.9", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestConfigs(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/configs", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var list []db.Thresholds
	testutil.DecodeJSON(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, 95.0, list[0].ConfidenceThreshold)
	assert.Equal(t, 70.0, list[0].UrgentThreshold)

	rec = env.do(t, http.MethodPost, "/api/configs/upsert", `{"confidenceThreshold": 90, "urgentThreshold": "60"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/api/configs/1", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var cfg db.Thresholds
	testutil.DecodeJSON(t, rec, &cfg)
	assert.Equal(t, 90.0, cfg.ConfidenceThreshold)
	assert.Equal(t, 60.0, cfg.UrgentThreshold)

	rec = env.do(t, http.MethodPost, "/api/configs/upsert", `{"confidenceThreshold": 90}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	rec = env.do(t, http.MethodGet, "/api/configs/7", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = env.do(t, http.MethodGet, "/api/configs/x", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestRouterFallbacks(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/nowhere", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	testutil.AssertErrorContains(t, rec, "Route not found")

	rec = env.do(t, http.MethodPatch, "/api/speed", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)

	rec = env.do(t, http.MethodGet, "/api/stream/everything", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
	testutil.AssertErrorContains(t, rec, "Unknown stream")
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

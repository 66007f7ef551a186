package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/errquotient/internal/adapters/http/api"
	"github.com/okian/errquotient/internal/adapters/repository"
	"github.com/okian/errquotient/internal/domain/classifier"
	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/internal/domain/types"
)

type mockDependencies struct {
	classifyErr error
	ingestErr   error
	profileErr  error
	sessionsErr error
	predictErr  error
	retrainErr  error

	ingested    []model.ErrorEvent
	lastOffset  int
	lastLimit   int
	lastPredict float64
}

func (m *mockDependencies) Classify(_ context.Context, e model.ErrorEvent) (types.Classification, error) {
	if m.classifyErr != nil {
		return types.Classification{}, m.classifyErr
	}
	return types.Classification{UserID: e.UserID, Performance: model.PerformanceHigh, Cluster: 1, TotalSessions: 1}, nil
}

func (m *mockDependencies) Ingest(_ context.Context, e model.ErrorEvent) (model.ErrorEvent, error) {
	if m.ingestErr != nil {
		return model.ErrorEvent{}, m.ingestErr
	}
	e.ID = fmt.Sprintf("evt-%d", len(m.ingested)+1)
	m.ingested = append(m.ingested, e)
	return e, nil
}

func (m *mockDependencies) Profile(_ context.Context, userID string) (model.UserProfile, error) {
	if m.profileErr != nil {
		return model.UserProfile{}, m.profileErr
	}
	return model.UserProfile{UserID: userID, AverageEQScore: 0.25, TotalSessions: 3}, nil
}

func (m *mockDependencies) Sessions(_ context.Context, userID string, offset, limit int) ([]model.SessionEQRecord, error) {
	m.lastOffset, m.lastLimit = offset, limit
	if m.sessionsErr != nil {
		return nil, m.sessionsErr
	}
	return []model.SessionEQRecord{{ID: "s1", UserID: userID, EventCount: 2}}, nil
}

func (m *mockDependencies) Predict(_ context.Context, avg float64) (types.Classification, error) {
	m.lastPredict = avg
	if m.predictErr != nil {
		return types.Classification{}, m.predictErr
	}
	return types.Classification{Performance: model.PerformanceLow, Cluster: 3, AverageEQScore: avg}, nil
}

func (m *mockDependencies) RetrainAll(context.Context) (types.RetrainResult, error) {
	if m.retrainErr != nil {
		return types.RetrainResult{}, m.retrainErr
	}
	return types.RetrainResult{Outcome: types.OutcomeSkipped, Reason: "not enough users"}, nil
}

func (m *mockDependencies) ModelInfo(context.Context) types.ModelInfo {
	return types.ModelInfo{State: classifier.StateDefault, FeatureNames: []string{"average_eq_score"}}
}

type mockStatsProvider struct {
	stats types.Stats
}

func (m *mockStatsProvider) GetStats(context.Context) types.Stats {
	return m.stats
}

func newMux(deps *mockDependencies) *http.ServeMux {
	stats := &mockStatsProvider{stats: types.Stats{Started: true, QueueCapacity: 10, Workers: 2}}
	server := api.NewServer(deps, stats)
	mux := http.NewServeMux()
	server.Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) (string, string) {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
	return body.Code, body.Message
}

const validEvent = `{"user_id":"u1","project_id":"p1","error_snapshot":"Main.java:3: error: cannot find symbol","occurred_at":"2024-03-01T09:00:00Z"}`

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("health serves the metrics registry", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("stats returns the provider snapshot", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var s types.Stats
			So(json.Unmarshal(w.Body.Bytes(), &s), ShouldBeNil)
			So(s.Started, ShouldBeTrue)
			So(s.Workers, ShouldEqual, 2)
		})

		Convey("an unknown route is 404", func() {
			w := do(mux, http.MethodGet, "/unknown", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("a wrong method is rejected", func() {
			w := do(mux, http.MethodGet, "/events", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestEvents(t *testing.T) {
	Convey("Given the event routes", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("POST /events accepts a valid event", func() {
			w := do(mux, http.MethodPost, "/events", validEvent)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			var body map[string]string
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body["status"], ShouldEqual, "accepted")
			So(body["event_id"], ShouldEqual, "evt-1")
			So(deps.ingested, ShouldHaveLength, 1)
			So(deps.ingested[0].RawMessage, ShouldContainSubstring, "cannot find symbol")
			So(deps.ingested[0].OccurredAt, ShouldEqual, "2024-03-01T09:00:00Z")
		})

		Convey("a blank user is a bad request", func() {
			w := do(mux, http.MethodPost, "/events", `{"user_id":"  ","error_snapshot":"x"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			code, _ := errorCode(w)
			So(code, ShouldEqual, "bad_request")
			So(deps.ingested, ShouldBeEmpty)
		})

		Convey("an empty error snapshot is still accepted", func() {
			w := do(mux, http.MethodPost, "/events", `{"user_id":"u1","project_id":"p","error_snapshot":""}`)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(deps.ingested, ShouldHaveLength, 1)
			So(deps.ingested[0].RawMessage, ShouldBeEmpty)

			w = do(mux, http.MethodPost, "/classify", `{"user_id":"u1","project_id":"p","error_snapshot":""}`)
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("an oversized error snapshot is a bad request", func() {
			body := fmt.Sprintf(`{"user_id":"u1","error_snapshot":%q}`, strings.Repeat("x", 65537))
			w := do(mux, http.MethodPost, "/events", body)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("malformed JSON is a bad request", func() {
			w := do(mux, http.MethodPost, "/events", `{"user_id":`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("a full queue answers 429 with Retry-After", func() {
			deps.ingestErr = fmt.Errorf("%w: queue full", types.ErrBackpressure)
			w := do(mux, http.MethodPost, "/events", validEvent)
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(w.Header().Get("Retry-After"), ShouldEqual, "1")
			code, _ := errorCode(w)
			So(code, ShouldEqual, "backpressure")
		})

		Convey("a service bad request keeps its message", func() {
			deps.ingestErr = fmt.Errorf("%w: %w", types.ErrBadRequest, repository.ErrInvalidEvent)
			w := do(mux, http.MethodPost, "/events", validEvent)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("POST /classify answers synchronously", func() {
			w := do(mux, http.MethodPost, "/classify", validEvent)
			So(w.Code, ShouldEqual, http.StatusOK)
			var c types.Classification
			So(json.Unmarshal(w.Body.Bytes(), &c), ShouldBeNil)
			So(c.UserID, ShouldEqual, "u1")
			So(c.Performance, ShouldEqual, model.PerformanceHigh)
		})

		Convey("an unavailable model is 503", func() {
			deps.classifyErr = classifier.ErrModelUnavailable
			w := do(mux, http.MethodPost, "/classify", validEvent)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			code, _ := errorCode(w)
			So(code, ShouldEqual, "model_unavailable")
		})

		Convey("internal failures do not leak their text", func() {
			deps.classifyErr = errors.New("disk on fire at /var/lib/eq.db")
			w := do(mux, http.MethodPost, "/classify", validEvent)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			code, msg := errorCode(w)
			So(code, ShouldEqual, "internal_error")
			So(msg, ShouldNotContainSubstring, "disk")
		})
	})
}

func TestProfiles(t *testing.T) {
	Convey("Given the profile routes", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("GET /profiles/{user_id} returns the profile", func() {
			w := do(mux, http.MethodGet, "/profiles/u1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var p model.UserProfile
			So(json.Unmarshal(w.Body.Bytes(), &p), ShouldBeNil)
			So(p.UserID, ShouldEqual, "u1")
			So(p.TotalSessions, ShouldEqual, 3)
		})

		Convey("an unknown user is 404", func() {
			deps.profileErr = repository.ErrNotFound
			w := do(mux, http.MethodGet, "/profiles/ghost", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("sessions default to the first page", func() {
			w := do(mux, http.MethodGet, "/profiles/u1/sessions", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.lastOffset, ShouldEqual, 0)
			So(deps.lastLimit, ShouldEqual, 50)
			So(w.Body.String(), ShouldContainSubstring, `"sessions":[`)
		})

		Convey("sessions honour offset and limit", func() {
			w := do(mux, http.MethodGet, "/profiles/u1/sessions?offset=10&limit=5", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.lastOffset, ShouldEqual, 10)
			So(deps.lastLimit, ShouldEqual, 5)
		})

		Convey("out of range paging is rejected", func() {
			for _, q := range []string{"limit=0", "limit=501", "offset=-1", "limit=abc"} {
				w := do(mux, http.MethodGet, "/profiles/u1/sessions?"+q, "")
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			}
		})
	})
}

func TestModelRoutes(t *testing.T) {
	Convey("Given the model routes", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("POST /predict classifies an average", func() {
			w := do(mux, http.MethodPost, "/predict", `{"average_eq_score":0.9}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.lastPredict, ShouldEqual, 0.9)
		})

		Convey("a zero average is accepted", func() {
			w := do(mux, http.MethodPost, "/predict", `{"average_eq_score":0}`)
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("a missing or out of range average is rejected", func() {
			So(do(mux, http.MethodPost, "/predict", `{}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/predict", `{"average_eq_score":1.5}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPost, "/predict", `{"average_eq_score":-0.1}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("predict without a model is 503", func() {
			deps.predictErr = classifier.ErrModelUnavailable
			w := do(mux, http.MethodPost, "/predict", `{"average_eq_score":0.5}`)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("GET /model describes the live model", func() {
			w := do(mux, http.MethodGet, "/model", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "average_eq_score")
		})

		Convey("a skipped retrain is still 200", func() {
			w := do(mux, http.MethodPost, "/admin/retrain", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var res types.RetrainResult
			So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)
			So(res.Outcome, ShouldEqual, types.OutcomeSkipped)
		})

		Convey("a retrain before start is 503", func() {
			deps.retrainErr = types.ErrNotStarted
			w := do(mux, http.MethodPost, "/admin/retrain", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestKindError(t *testing.T) {
	Convey("KindError matches both its kind and its cause", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("api.x", api.ErrBadRequest, cause)
		So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.x: bad request: boom")
		So(api.NewKind("api.y", api.ErrNotFound).Error(), ShouldEqual, "api.y: not found")
	})
}

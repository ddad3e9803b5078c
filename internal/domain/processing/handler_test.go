package processing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healz/reports/internal/platform/validation"
	"github.com/healz/reports/internal/platform/workflow"
)

const testSecret = "whsec-test"

func newTestHandler() (*Handler, *testEnv, *fakeClock) {
	env := newTestEnv()
	clock := &fakeClock{now: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)}
	poller := NewPoller(env.svc, PollPolicy{Interval: time.Second, Timeout: 5 * time.Second}, clock)
	return NewHandler(env.svc, poller, testSecret, zerolog.Nop()), env, clock
}

func jsonContext(e *echo.Echo, method, body, id string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func signedCallback(e *echo.Echo, body, secret string) (echo.Context, *httptest.ResponseRecorder) {
	c, rec := jsonContext(e, http.MethodPost, body, "")
	c.Request().Header.Set(workflow.SignatureHeader, "sha256="+workflow.SignPayload([]byte(body), secret))
	return c, rec
}

func httpCode(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

func TestHandler_Callback(t *testing.T) {
	h, env, _ := newTestHandler()
	j := analyticsJob(t, env)
	e := echo.New()
	e.Validator = validation.New()

	body := `{"job_id":"` + j.ID.String() + `","status":"completed","diagnosis":"Ferritina baja",` +
		`"readings":[{"name":"Ferritina","value":12,"optimal_min":40,"optimal_max":150,"conventional_min":15,"conventional_max":300,"measured_at":"2024-03-01T08:00:00Z"}]}`
	c, rec := signedCallback(e, body, testSecret)
	if err := h.Callback(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"completed"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if len(env.reports.generated) != 1 {
		t.Errorf("expected a report generated, got %d", len(env.reports.generated))
	}
}

func TestHandler_Callback_Rejected(t *testing.T) {
	h, env, _ := newTestHandler()
	j := analyticsJob(t, env)
	e := echo.New()
	e.Validator = validation.New()
	body := `{"job_id":"` + j.ID.String() + `","status":"failed"}`

	c, _ := signedCallback(e, body, "wrong-secret")
	if code := httpCode(h.Callback(c)); code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a bad signature, got %d", code)
	}

	c, _ = jsonContext(e, http.MethodPost, body, "")
	if code := httpCode(h.Callback(c)); code != http.StatusUnauthorized {
		t.Errorf("expected 401 for an unsigned callback, got %d", code)
	}

	c, _ = signedCallback(e, `{"job_id":"`+j.ID.String()+`","status":"done"}`, testSecret)
	if code := httpCode(h.Callback(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown status, got %d", code)
	}

	c, _ = signedCallback(e, `{"job_id":"`+uuid.New().String()+`","status":"failed"}`, testSecret)
	if code := httpCode(h.Callback(c)); code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown job, got %d", code)
	}

	unsigned := NewHandler(env.svc, nil, "", zerolog.Nop())
	c, _ = signedCallback(e, body, "")
	if code := httpCode(unsigned.Callback(c)); code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a configured secret, got %d", code)
	}
}

func TestHandler_RetryJob(t *testing.T) {
	h, env, _ := newTestHandler()
	env.trigger.err = errors.New("timeout")
	j := analyticsJob(t, env)
	env.trigger.err = nil
	e := echo.New()

	c, rec := jsonContext(e, http.MethodPost, "", j.ID.String())
	if err := h.RetryJob(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}

	c, _ = jsonContext(e, http.MethodPost, "", j.ID.String())
	if code := httpCode(h.RetryJob(c)); code != http.StatusConflict {
		t.Errorf("expected 409 retrying a pending job, got %d", code)
	}
	c, _ = jsonContext(e, http.MethodPost, "", "nope")
	if code := httpCode(h.RetryJob(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad id, got %d", code)
	}
}

func TestHandler_WaitJob(t *testing.T) {
	h, env, clock := newTestHandler()
	j := analyticsJob(t, env)
	e := echo.New()

	c, rec := jsonContext(e, http.MethodGet, "", j.ID.String())
	if err := h.WaitJob(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202 while the job is pending, got %d", rec.Code)
	}

	clock.onTick = func() {
		env.svc.ApplyCallback(c.Request().Context(), Callback{JobID: j.ID, Status: StatusCompleted})
	}
	c, rec = jsonContext(e, http.MethodGet, "", j.ID.String())
	if err := h.WaitJob(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"completed"`) {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	c, _ = jsonContext(e, http.MethodGet, "", uuid.New().String())
	if code := httpCode(h.WaitJob(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_ListAndGet(t *testing.T) {
	h, env, _ := newTestHandler()
	j := analyticsJob(t, env)
	analyticsJob(t, env)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/processing?patient_id="+j.PatientID.String(), nil)
	rec := httptest.NewRecorder()
	if err := h.ListJobs(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one job for the patient, got %s", rec.Body.String())
	}

	c, rec := jsonContext(e, http.MethodGet, "", j.ID.String())
	if err := h.GetJob(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

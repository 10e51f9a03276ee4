package httpserver

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/filetools-bot/internal/config"
	"github.com/fairyhunter13/filetools-bot/internal/domain"
	"github.com/fairyhunter13/filetools-bot/internal/usecase"
)

type fakeLedger struct {
	left      int64
	ok        bool
	consumeOK bool
}

func (f *fakeLedger) GetCreditsLeft(domain.Context, bool) (int64, bool, error) {
	return f.left, f.ok, nil
}
func (f *fakeLedger) InitDailyCredits(domain.Context, int64) error { return nil }
func (f *fakeLedger) ConsumeCredits(domain.Context, int64, string, string, string) (bool, error) {
	return f.consumeOK, nil
}
func (f *fakeLedger) RefundCredits(domain.Context, int64, string) error { return nil }
func (f *fakeLedger) CompareCreditsLeft(domain.Context) (domain.CreditComparison, error) {
	return domain.CreditComparison{Fast: f.left, Durable: f.left, Equal: true}, nil
}

type fakeLimiter struct{ allow bool }

func (f *fakeLimiter) Attempt(string, string) bool { return f.allow }
func (f *fakeLimiter) SetMaxAttempt(int, string)   {}

func newTestServer(ledger *fakeLedger, limiter *fakeLimiter, q *fakeQueue) *Server {
	ingress := usecase.NewIngressService(ledger, limiter, q, config.NewToolCatalog())
	return NewServer(ingress, ledger, q, nil)
}

func TestSubmitHandlerAccepted(t *testing.T) {
	q := &fakeQueue{}
	srv := newTestServer(&fakeLedger{left: 70, ok: true, consumeOK: true}, &fakeLimiter{allow: true}, q)

	body := `{"tg_user_id": 42, "tool": "compress", "file_links": ["https://files.example.com/in.pdf"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.SubmitHandler()(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
	assert.Contains(t, rec.Body.String(), `"job_id"`)
	require.Len(t, q.tasks, 1)
}

func TestSubmitHandlerEnvelopeStatuses(t *testing.T) {
	valid := `{"tg_user_id": 42, "tool": "compress", "file_links": ["https://files.example.com/in.pdf"]}`
	tests := []struct {
		name    string
		ledger  *fakeLedger
		limiter *fakeLimiter
		body    string
		want    int
		errName string
	}{
		{
			name: "malformed body", ledger: &fakeLedger{consumeOK: true}, limiter: &fakeLimiter{allow: true},
			body: `{`, want: http.StatusBadRequest, errName: "InvalidArgument",
		},
		{
			name: "missing file links", ledger: &fakeLedger{consumeOK: true}, limiter: &fakeLimiter{allow: true},
			body: `{"tg_user_id": 42, "tool": "compress"}`, want: http.StatusBadRequest, errName: "InvalidArgument",
		},
		{
			name: "rate limited", ledger: &fakeLedger{consumeOK: true}, limiter: &fakeLimiter{allow: false},
			body: valid, want: http.StatusTooManyRequests, errName: "RateLimited",
		},
		{
			name: "out of quota", ledger: &fakeLedger{consumeOK: false}, limiter: &fakeLimiter{allow: true},
			body: valid, want: http.StatusTooManyRequests, errName: "OutOfQuota",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(tc.ledger, tc.limiter, &fakeQueue{})
			req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			srv.SubmitHandler()(rec, req)

			require.Equal(t, tc.want, rec.Code)
			assert.Contains(t, rec.Body.String(), fmt.Sprintf(`"statusCode":%d`, tc.want))
			assert.Contains(t, rec.Body.String(), fmt.Sprintf(`"name":%q`, tc.errName))
		})
	}
}

func TestCreditsHandler(t *testing.T) {
	srv := newTestServer(&fakeLedger{left: 60, ok: true}, &fakeLimiter{allow: true}, &fakeQueue{})
	req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
	rec := httptest.NewRecorder()
	srv.CreditsHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"credits_left":60`)
	assert.Contains(t, rec.Body.String(), `"comparison"`)
}

func TestCreditsHandlerUninitializedPool(t *testing.T) {
	srv := newTestServer(&fakeLedger{ok: false}, &fakeLimiter{allow: true}, &fakeQueue{})
	req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
	rec := httptest.NewRecorder()
	srv.CreditsHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"initialized":false`)
	assert.NotContains(t, rec.Body.String(), `"comparison"`)
}

func TestHealthAndReadiness(t *testing.T) {
	srv := newTestServer(&fakeLedger{}, &fakeLimiter{}, &fakeQueue{})
	rec := httptest.NewRecorder()
	srv.HealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	srv.Ready = func(domain.Context) error { return nil }
	rec = httptest.NewRecorder()
	srv.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	srv.Ready = func(domain.Context) error { return assert.AnError }
	rec = httptest.NewRecorder()
	srv.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

package server_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jacklau/issuesla/internal/github"
	"github.com/jacklau/issuesla/internal/ingest"
	"github.com/jacklau/issuesla/internal/metrics"
	"github.com/jacklau/issuesla/internal/server"
	"github.com/jacklau/issuesla/internal/stats"
)

const (
	secret     = "s3cret"
	deliveryID = "72d3162e-cc78-11e3-81ab-4c9367dc0958"
)

type mockIngester struct{ mock.Mock }

func (m *mockIngester) Handle(ctx context.Context, evt github.WebhookEvent) error {
	return m.Called(ctx, evt).Error(0)
}

type mockStats struct{ mock.Mock }

func (m *mockStats) Compute(ctx context.Context, q stats.Query) (metrics.Statistics, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(metrics.Statistics), args.Error(1)
}

type mockDeliveries struct{ mock.Mock }

func (m *mockDeliveries) RecordDelivery(ctx context.Context, id, event string) (bool, error) {
	args := m.Called(ctx, id, event)
	return args.Bool(0), args.Error(1)
}

func (m *mockDeliveries) ForgetDelivery(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const openedPayload = `{"action":"opened","issue":{"id":2001,"number":42,"author_association":"NONE",` +
	`"created_at":"2024-03-01T10:00:00Z","updated_at":"2024-03-01T10:00:00Z","user":{"login":"visitor"}},` +
	`"repository":{"full_name":"octo/app"}}`

func webhookRequest(path, event, delivery, body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if event != "" {
		req.Header.Set("X-GitHub-Event", event)
	}
	if delivery != "" {
		req.Header.Set("X-GitHub-Delivery", delivery)
	}
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	return req
}

func isOpened(evt github.WebhookEvent) bool {
	return evt.Kind == github.EventIssueOpened && evt.Issue.ID == 2001 && evt.Repo == "octo/app"
}

func TestHealth(t *testing.T) {
	h := server.NewHandler(new(mockIngester), new(mockStats), nil, secret, nil, discardLogger())

	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWebhook(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		event        string
		body         string
		signature    func(body string) string
		mockBehavior func(in *mockIngester)
		wantStatus   int
		wantBody     string
		wantCode     string
	}{
		{
			name:      "issue opened",
			path:      "/webhooks/github",
			event:     "issues",
			body:      openedPayload,
			signature: func(b string) string { return sign([]byte(b)) },
			mockBehavior: func(in *mockIngester) {
				in.On("Handle", mock.Anything, mock.MatchedBy(isOpened)).Return(nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   "OK",
		},
		{
			name:      "legacy issue endpoint without event header",
			path:      "/webhooks/gh-issue",
			body:      openedPayload,
			signature: func(b string) string { return sign([]byte(b)) },
			mockBehavior: func(in *mockIngester) {
				in.On("Handle", mock.Anything, mock.MatchedBy(isOpened)).Return(nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   "OK",
		},
		{
			name:         "bad signature",
			path:         "/webhooks/github",
			event:        "issues",
			body:         openedPayload,
			signature:    func(string) string { return "sha256=deadbeef" },
			mockBehavior: func(in *mockIngester) {},
			wantStatus:   http.StatusUnauthorized,
			wantBody:     "Unauthorized",
		},
		{
			name:         "missing signature",
			path:         "/webhooks/github",
			event:        "issues",
			body:         openedPayload,
			signature:    func(string) string { return "" },
			mockBehavior: func(in *mockIngester) {},
			wantStatus:   http.StatusUnauthorized,
			wantBody:     "Unauthorized",
		},
		{
			name:         "unsupported event",
			path:         "/webhooks/github",
			event:        "push",
			body:         `{"ref":"refs/heads/main"}`,
			signature:    func(b string) string { return sign([]byte(b)) },
			mockBehavior: func(in *mockIngester) {},
			wantStatus:   http.StatusOK,
			wantBody:     "OK",
		},
		{
			name:         "ignored comment edit",
			path:         "/webhooks/github",
			event:        "issue_comment",
			body:         `{"action":"edited","issue":{"id":1},"comment":{"id":2},"repository":{"full_name":"octo/app"}}`,
			signature:    func(b string) string { return sign([]byte(b)) },
			mockBehavior: func(in *mockIngester) {},
			wantStatus:   http.StatusOK,
			wantBody:     "OK",
		},
		{
			name:         "malformed payload",
			path:         "/webhooks/github",
			event:        "issues",
			body:         `{"action":`,
			signature:    func(b string) string { return sign([]byte(b)) },
			mockBehavior: func(in *mockIngester) {},
			wantStatus:   http.StatusBadRequest,
			wantCode:     "BAD_REQUEST",
		},
		{
			name:      "event that cannot be stored",
			path:      "/webhooks/github",
			event:     "issues",
			body:      openedPayload,
			signature: func(b string) string { return sign([]byte(b)) },
			mockBehavior: func(in *mockIngester) {
				in.On("Handle", mock.Anything, mock.Anything).Return(ingest.ErrInvalidEvent)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "BAD_REQUEST",
		},
		{
			name:      "store failure",
			path:      "/webhooks/github",
			event:     "issues",
			body:      openedPayload,
			signature: func(b string) string { return sign([]byte(b)) },
			mockBehavior: func(in *mockIngester) {
				in.On("Handle", mock.Anything, mock.Anything).Return(errors.New("disk full"))
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := new(mockIngester)
			tt.mockBehavior(in)
			h := server.NewHandler(in, new(mockStats), nil, secret, nil, discardLogger())

			w := httptest.NewRecorder()
			h.Router().ServeHTTP(w, webhookRequest(tt.path, tt.event, "", tt.body, tt.signature(tt.body)))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
			if tt.wantCode != "" {
				var resp struct {
					Error struct {
						Code string `json:"code"`
					} `json:"error"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantCode, resp.Error.Code)
			}
			in.AssertExpectations(t)
		})
	}
}

func TestWebhookDeliveryDeduplication(t *testing.T) {
	t.Run("redelivery is skipped", func(t *testing.T) {
		in := new(mockIngester)
		dl := new(mockDeliveries)
		dl.On("RecordDelivery", mock.Anything, deliveryID, "issues").Return(false, nil)

		h := server.NewHandler(in, new(mockStats), dl, secret, nil, discardLogger())
		w := httptest.NewRecorder()
		h.Router().ServeHTTP(w, webhookRequest("/webhooks/github", "issues", deliveryID, openedPayload, sign([]byte(openedPayload))))

		assert.Equal(t, http.StatusOK, w.Code)
		in.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
		dl.AssertExpectations(t)
	})

	t.Run("first delivery is ingested", func(t *testing.T) {
		in := new(mockIngester)
		in.On("Handle", mock.Anything, mock.MatchedBy(func(evt github.WebhookEvent) bool {
			return evt.DeliveryID == deliveryID
		})).Return(nil)
		dl := new(mockDeliveries)
		dl.On("RecordDelivery", mock.Anything, deliveryID, "issues").Return(true, nil)

		h := server.NewHandler(in, new(mockStats), dl, secret, nil, discardLogger())
		w := httptest.NewRecorder()
		h.Router().ServeHTTP(w, webhookRequest("/webhooks/github", "issues", deliveryID, openedPayload, sign([]byte(openedPayload))))

		assert.Equal(t, http.StatusOK, w.Code)
		in.AssertExpectations(t)
		dl.AssertExpectations(t)
	})

	t.Run("failed ingest forgets the delivery", func(t *testing.T) {
		in := new(mockIngester)
		in.On("Handle", mock.Anything, mock.Anything).Return(errors.New("db locked"))
		dl := new(mockDeliveries)
		dl.On("RecordDelivery", mock.Anything, deliveryID, "issues").Return(true, nil)
		dl.On("ForgetDelivery", mock.Anything, deliveryID).Return(nil)

		h := server.NewHandler(in, new(mockStats), dl, secret, nil, discardLogger())
		w := httptest.NewRecorder()
		h.Router().ServeHTTP(w, webhookRequest("/webhooks/github", "issues", deliveryID, openedPayload, sign([]byte(openedPayload))))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		dl.AssertExpectations(t)
	})

	t.Run("non-uuid delivery id is not tracked", func(t *testing.T) {
		in := new(mockIngester)
		in.On("Handle", mock.Anything, mock.Anything).Return(nil)
		dl := new(mockDeliveries)

		h := server.NewHandler(in, new(mockStats), dl, secret, nil, discardLogger())
		w := httptest.NewRecorder()
		h.Router().ServeHTTP(w, webhookRequest("/webhooks/github", "issues", "manual-test", openedPayload, sign([]byte(openedPayload))))

		assert.Equal(t, http.StatusOK, w.Code)
		dl.AssertNotCalled(t, "RecordDelivery", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestIssueStatistics(t *testing.T) {
	result := metrics.ComputeIssueStatistics(nil,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	)

	tests := []struct {
		name         string
		query        string
		mockBehavior func(s *mockStats)
		wantStatus   int
		wantCode     string
	}{
		{
			name:  "explicit window and repo",
			query: "?from=2024-03-01&to=2024-03-31&repo=octo/app",
			mockBehavior: func(s *mockStats) {
				s.On("Compute", mock.Anything, mock.MatchedBy(func(q stats.Query) bool {
					return q.Repo == "octo/app" &&
						q.From.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) &&
						q.To.Equal(time.Date(2024, 3, 31, 23, 59, 59, int(999*time.Millisecond), time.UTC))
				})).Return(result, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:  "defaults left to the service",
			query: "",
			mockBehavior: func(s *mockStats) {
				s.On("Compute", mock.Anything, stats.Query{}).Return(result, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:         "bad from date",
			query:        "?from=last-week",
			mockBehavior: func(s *mockStats) {},
			wantStatus:   http.StatusBadRequest,
			wantCode:     "BAD_REQUEST",
		},
		{
			name:         "bad to date",
			query:        "?to=03/31/2024",
			mockBehavior: func(s *mockStats) {},
			wantStatus:   http.StatusBadRequest,
			wantCode:     "BAD_REQUEST",
		},
		{
			name:  "unknown repo",
			query: "?repo=octo/missing",
			mockBehavior: func(s *mockStats) {
				s.On("Compute", mock.Anything, mock.Anything).
					Return(metrics.Statistics{}, stats.NotFound("repository octo/missing is not tracked", nil))
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:  "store failure",
			query: "",
			mockBehavior: func(s *mockStats) {
				s.On("Compute", mock.Anything, mock.Anything).Return(metrics.Statistics{}, errors.New("boom"))
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockStats)
			tt.mockBehavior(svc)
			h := server.NewHandler(new(mockIngester), svc, nil, secret, nil, discardLogger())

			w := httptest.NewRecorder()
			h.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/issue-statistics"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"responseTargetTracker":{"metric":0,"items":[]}`)
				assert.Contains(t, w.Body.String(), `"closeTimeChart":{"data":[]}`)
			}
			if tt.wantCode != "" {
				var resp struct {
					Error struct {
						Code string `json:"code"`
					} `json:"error"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantCode, resp.Error.Code)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := server.NewHandler(new(mockIngester), new(mockStats), nil, secret, []string{"http://localhost:8910"}, discardLogger())

	req := httptest.NewRequest(http.MethodOptions, "/api/issue-statistics", nil)
	req.Header.Set("Origin", "http://localhost:8910")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:8910", w.Header().Get("Access-Control-Allow-Origin"))
}

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/outreach-engine/internal/controller"
	"github.com/unclebandit/outreach-engine/internal/handler"
	"github.com/unclebandit/outreach-engine/internal/service"
)

type noopOpens struct{ calls int }

func (n *noopOpens) RecordOpen(context.Context, string) error {
	n.calls++
	return nil
}

type noopJobs struct{}

func (noopJobs) Run(context.Context) (service.DispatchSummary, error) {
	return service.DispatchSummary{}, nil
}

func testRouter(opens *noopOpens) http.Handler {
	return newRouter(routes{
		Jobs:        &handler.JobHandler{Dispatcher: noopJobs{}},
		Campaigns:   &handler.CampaignHandler{Opens: opens},
		Staff:       &controller.CampaignController{},
		JobToken:    "job-token",
		StaffAPIKey: "staff-key",
	})
}

func TestRouterAuthBoundaries(t *testing.T) {
	opens := &noopOpens{}
	router := testRouter(opens)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		value  string
		want   int
	}{
		{"health is open", http.MethodGet, "/health", "", "", http.StatusOK},
		{"pixel is open", http.MethodGet, "/track/open/abc.gif", "", "", http.StatusOK},
		{"jobs need bearer", http.MethodPost, "/jobs/dispatch", "", "", http.StatusUnauthorized},
		{"api key is not a job token", http.MethodPost, "/jobs/dispatch", "X-API-Key", "staff-key", http.StatusUnauthorized},
		{"jobs accept bearer", http.MethodPost, "/jobs/dispatch", "Authorization", "Bearer job-token", http.StatusOK},
		{"staff need api key", http.MethodGet, "/campaigns", "", "", http.StatusUnauthorized},
		{"job token is not an api key", http.MethodGet, "/campaigns", "Authorization", "Bearer job-token", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
	assert.Equal(t, 1, opens.calls)
}

func TestPublicRoutesAllowCrossOrigin(t *testing.T) {
	router := testRouter(&noopOpens{})

	req := httptest.NewRequest(http.MethodOptions, "/public/campaigns/tok", nil)
	req.Header.Set("Origin", "https://founder.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

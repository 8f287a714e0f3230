package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-engine/internal/controller"
	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/handler"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/service"
)

// --- Mock Repositories ---

type MockCampaignRepo struct {
	mu        sync.Mutex
	campaigns []*model.Campaign
}

func (m *MockCampaignRepo) find(id string) *model.Campaign {
	for _, c := range m.campaigns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *MockCampaignRepo) Create(_ context.Context, c *model.Campaign) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.find(c.ID) != nil {
		return false, nil
	}
	cp := *c
	m.campaigns = append(m.campaigns, &cp)
	return true, nil
}

func (m *MockCampaignRepo) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.find(id); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, appErrors.NewCampaignNotFound(id)
}

func (m *MockCampaignRepo) GetByPublicToken(_ context.Context, token string) (*model.Campaign, error) {
	return nil, appErrors.NewCampaignNotFound(token)
}

func (m *MockCampaignRepo) ListCampaigns(_ context.Context, offset, limit int, clientID, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var filtered []*model.Campaign
	for _, c := range m.campaigns {
		if clientID != "" && c.ClientID != clientID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		filtered = append(filtered, c)
	}
	total := len(filtered)

	// Simulate pagination
	start := offset
	end := offset + limit
	if start > total {
		return []*model.Campaign{}, total, nil
	}
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

func (m *MockCampaignRepo) Update(_ context.Context, id string, fn func(*model.Campaign) error) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.find(id)
	if c == nil {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	next := *c
	if err := fn(&next); err != nil {
		return nil, err
	}
	*c = next
	return &next, nil
}

func (m *MockCampaignRepo) ApplyStats(ctx context.Context, id string, delta model.StatsDelta, _ *time.Time) (*model.Campaign, error) {
	return m.Update(ctx, id, func(c *model.Campaign) error {
		c.Stats.Apply(delta)
		return nil
	})
}

type MockRecipientRepo struct {
	mu         sync.Mutex
	recipients []*model.Recipient
}

func (m *MockRecipientRepo) CreateBatch(_ context.Context, rs []*model.Recipient) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range rs {
		dup := false
		for _, e := range m.recipients {
			if e.CampaignID == r.CampaignID && model.NormalizeEmail(e.OriginalContact.Email) == model.NormalizeEmail(r.OriginalContact.Email) {
				dup = true
			}
		}
		if !dup {
			m.recipients = append(m.recipients, r)
			n++
		}
	}
	return n, nil
}

func (m *MockRecipientRepo) GetByID(_ context.Context, id string) (*model.Recipient, error) {
	return nil, appErrors.NewRecipientNotFound(id)
}

func (m *MockRecipientRepo) GetByTrackingID(_ context.Context, id string) (*model.Recipient, error) {
	return nil, appErrors.NewRecipientNotFound(id)
}

func (m *MockRecipientRepo) Transact(_ context.Context, id string, fn func(*model.Recipient) error) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipients {
		if r.ID == id {
			next := *r
			if err := fn(&next); err != nil {
				return nil, err
			}
			*r = next
			return &next, nil
		}
	}
	return nil, appErrors.NewRecipientNotFound(id)
}

func (m *MockRecipientRepo) ClaimDue(context.Context, time.Time, int) ([]*model.Recipient, error) {
	return nil, nil
}

func (m *MockRecipientRepo) ListStaleSending(context.Context, time.Time, int) ([]*model.Recipient, error) {
	return nil, nil
}

func (m *MockRecipientRepo) CountOpen(context.Context, string) (int, error) { return 0, nil }

func (m *MockRecipientRepo) ListByCampaign(_ context.Context, campaignID, status string) ([]*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Recipient{}
	for _, r := range m.recipients {
		if r.CampaignID == campaignID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockRecipientRepo) ListContacted(context.Context, string) ([]*model.Recipient, error) {
	return nil, nil
}

type MockClientRepo struct{}

func (MockClientRepo) GetByID(_ context.Context, id string) (*model.Client, error) {
	if id != "client-1" {
		return nil, appErrors.NewClientNotFound(id)
	}
	return &model.Client{ID: id, CompanyName: "Ledgerly", Industry: "Fintech", FundingStage: "Seed", City: "Boston, USA", InvestmentAsk: "$2M"}, nil
}

func (MockClientRepo) ListWithActiveCampaigns(context.Context) ([]*model.Client, error) {
	return nil, nil
}
func (MockClientRepo) Save(context.Context, *model.Client) error { return nil }

type MockContactRepo struct{}

func (MockContactRepo) ListByType(context.Context, ...string) ([]model.Candidate, error) {
	return []model.Candidate{
		{ID: "inv-1", Type: model.ContactInvestor, Name: "Jane", Email: "jane@fund.com",
			InvestmentStages: []string{"Seed"}, SectorFocus: []string{"fintech"}, Locations: []string{"USA"}},
		{ID: "inv-2", Type: model.ContactInvestor, Name: "Joe", Email: "joe@vc.com",
			InvestmentStages: []string{"Series A"}, Locations: []string{"Canada"}},
	}, nil
}

func newController(campaigns ...*model.Campaign) (*controller.CampaignController, *MockRecipientRepo) {
	campaignRepo := &MockCampaignRepo{campaigns: campaigns}
	recipientRepo := &MockRecipientRepo{}
	svc := &service.CampaignService{
		CampaignRepo:  campaignRepo,
		ClientRepo:    MockClientRepo{},
		RecipientRepo: recipientRepo,
		State:         service.NewRecipientStateStore(recipientRepo),
	}
	return &controller.CampaignController{
		CampaignService: svc,
		MatchService:    &service.MatchService{Clients: MockClientRepo{}, Contacts: MockContactRepo{}},
	}, recipientRepo
}

func staffRouter(ctrl *controller.CampaignController) http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(handler.RequireAPIKey("staff-key"))
		ctrl.Routes(r)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-API-Key", "staff-key")
	req.Header.Set(controller.ActorHeader, "ops@outreach.test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error.Code
}

// --- Test Functions ---

func TestListCampaignsPagination(t *testing.T) {
	// --- Seed matching campaigns plus noise the filter must drop ---
	totalCampaigns := 25
	campaigns := []*model.Campaign{}
	for i := 1; i <= totalCampaigns; i++ {
		campaigns = append(campaigns, &model.Campaign{
			ID:       "C" + strconv.Itoa(i),
			ClientID: "client-1",
			Status:   model.CampaignActive,
		})
	}
	campaigns = append(campaigns,
		&model.Campaign{ID: "other-client", ClientID: "client-2", Status: model.CampaignActive},
		&model.Campaign{ID: "paused", ClientID: "client-1", Status: model.CampaignPaused},
	)

	ctrl, _ := newController(campaigns...)

	pageSize := 10
	seen := map[string]bool{}

	// Calculate total pages
	totalPages := (totalCampaigns + pageSize - 1) / pageSize

	for page := 1; page <= totalPages; page++ {
		req := httptest.NewRequest(
			"GET",
			"/campaigns?page="+strconv.Itoa(page)+
				"&page_size="+strconv.Itoa(pageSize)+
				"&client_id=client-1&status=active",
			nil,
		)
		w := httptest.NewRecorder()

		ctrl.ListCampaigns(w, req)
		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}

		var res struct {
			Data       []model.Campaign `json:"data"`
			Pagination struct {
				Page       int `json:"page"`
				PageSize   int `json:"page_size"`
				TotalCount int `json:"total_count"`
			} `json:"pagination"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		// --- Check pagination info ---
		if res.Pagination.Page != page {
			t.Errorf("expected page %d, got %d", page, res.Pagination.Page)
		}
		if res.Pagination.PageSize != pageSize {
			t.Errorf("expected page size %d, got %d", pageSize, res.Pagination.PageSize)
		}
		if res.Pagination.TotalCount != totalCampaigns {
			t.Errorf("expected total count %d, got %d", totalCampaigns, res.Pagination.TotalCount)
		}

		// --- Check data ---
		for _, c := range res.Data {
			if seen[c.ID] {
				t.Errorf("duplicate campaign ID %s across pages", c.ID)
			}
			seen[c.ID] = true

			if c.ClientID != "client-1" {
				t.Errorf("expected client-1, got %s", c.ClientID)
			}
			if c.Status != model.CampaignActive {
				t.Errorf("expected status active, got %s", c.Status)
			}
		}
	}

	if len(seen) != totalCampaigns {
		t.Errorf("expected %d unique campaigns, got %d", totalCampaigns, len(seen))
	}
}

func activationBody(key string) map[string]any {
	return map[string]any{
		"client_id":   "client-1",
		"target_type": model.TargetInvestors,
		"matches": []map[string]any{
			{"candidate": map[string]any{"id": "inv-1", "type": "investor", "name": "Jane", "email": "jane@fund.com"}, "score": 90, "priority": "high"},
			{"candidate": map[string]any{"id": "inv-2", "type": "investor", "name": "Joe", "email": "joe@vc.com"}, "score": 65, "priority": "medium"},
		},
		"template": map[string]any{"subject": "Intro", "body": "Hi {{name}}"},
		"schedule": map[string]any{
			"start_date":     "2026-03-02T09:00:00Z",
			"daily_limit":    20,
			"sending_window": map[string]any{"start": "09:00", "end": "17:00", "timezone": "UTC"},
		},
		"activation_key": key,
	}
}

func TestCreateCampaign(t *testing.T) {
	ctrl, recipients := newController()
	router := staffRouter(ctrl)

	w := do(t, router, http.MethodPost, "/campaigns", activationBody("launch-1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res struct {
		Campaign          model.Campaign `json:"campaign"`
		RecipientsCreated int            `json:"recipients_created"`
		Resumed           bool           `json:"resumed"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, model.CampaignActive, res.Campaign.Status)
	assert.Equal(t, "ops@outreach.test", res.Campaign.ActivatedBy)
	assert.Equal(t, 2, res.RecipientsCreated)
	assert.False(t, res.Resumed)

	again := do(t, router, http.MethodPost, "/campaigns", activationBody("launch-1"))
	require.Equal(t, http.StatusOK, again.Code)
	assert.Contains(t, again.Body.String(), `"resumed":true`)

	list, _ := recipients.ListByCampaign(context.Background(), res.Campaign.ID, "")
	assert.Len(t, list, 2)

	w = do(t, router, http.MethodGet, "/campaigns/"+res.Campaign.ID+"/recipients?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestCreateCampaignValidation(t *testing.T) {
	ctrl, _ := newController()
	router := staffRouter(ctrl)

	body := activationBody("")
	body["template"] = map[string]any{"subject": "", "body": "Hi"}
	w := do(t, router, http.MethodPost, "/campaigns", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.CodeValidation, errorCode(t, w))

	req := httptest.NewRequest(http.MethodPost, "/campaigns", strings.NewReader("{not json"))
	req.Header.Set("X-API-Key", "staff-key")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	ctrl, _ := newController(
		&model.Campaign{ID: "c1", ClientID: "client-1", Status: model.CampaignActive},
		&model.Campaign{ID: "done", ClientID: "client-1", Status: model.CampaignCompleted},
	)
	router := staffRouter(ctrl)

	w := do(t, router, http.MethodPost, "/campaigns/c1/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"paused"`)

	w = do(t, router, http.MethodPost, "/campaigns/done/pause", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.CodeInvalidTransition, errorCode(t, w))

	w = do(t, router, http.MethodPut, "/campaigns/c1/template", map[string]string{"subject": "New", "body": "Hey {{name}}"})
	require.Equal(t, http.StatusOK, w.Code)
	var c model.Campaign
	require.NoError(t, json.NewDecoder(w.Body).Decode(&c))
	assert.Equal(t, "New", c.CurrentTemplate.Subject)

	w = do(t, router, http.MethodGet, "/campaigns/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, appErrors.CodeCampaignNotFound, errorCode(t, w))

	w = do(t, router, http.MethodPost, "/campaigns/c1/retry", map[string]any{"recipient_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFindMatchesEndpoint(t *testing.T) {
	ctrl, _ := newController()
	router := staffRouter(ctrl)

	w := do(t, router, http.MethodPost, "/clients/client-1/matches", map[string]string{"target_type": "investors"})
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Data []struct {
			Score    int    `json:"score"`
			Priority string `json:"priority"`
		} `json:"data"`
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Equal(t, 1, res.Count)
	assert.Equal(t, 90, res.Data[0].Score)
	assert.Equal(t, model.PriorityHigh, res.Data[0].Priority)

	w = do(t, router, http.MethodPost, "/clients/ghost/matches", map[string]string{"target_type": "investors"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, appErrors.CodeClientNotFound, errorCode(t, w))
}

func TestStaffRoutesRequireAPIKey(t *testing.T) {
	ctrl, _ := newController()
	router := staffRouter(ctrl)

	req := httptest.NewRequest(http.MethodGet, "/campaigns", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, router, http.MethodGet, "/campaigns", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/handler"
	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/service"
)

// ActorHeader names the staff member making a change, for the audit log.
const ActorHeader = "X-Actor"

type CampaignController struct {
	CampaignService *service.CampaignService
	MatchService    *service.MatchService
	Log             *zap.Logger
}

func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(ActorHeader)); a != "" {
		return a
	}
	return "staff"
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return appErrors.NewValidation("body", "invalid JSON: "+err.Error())
	}
	return nil
}

func (c *CampaignController) fail(w http.ResponseWriter, r *http.Request, err error) {
	if appErrors.Code(err) == appErrors.CodeInternal {
		logger.OrNop(c.Log).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	handler.WriteError(w, err)
}

func (c *CampaignController) FindMatches(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetType string `json:"target_type"`
	}
	if err := decode(r, &body); err != nil {
		c.fail(w, r, err)
		return
	}
	matches, err := c.MatchService.FindMatches(r.Context(), chi.URLParam(r, "id"), body.TargetType)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":  matches,
		"count": len(matches),
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req service.ActivationRequest
	if err := decode(r, &req); err != nil {
		c.fail(w, r, err)
		return
	}
	if req.ActivatedBy == "" {
		req.ActivatedBy = actor(r)
	}

	result, err := c.CampaignService.Activate(r.Context(), req)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Resumed {
		status = http.StatusOK
	}
	handler.WriteJSON(w, status, result)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	clientID := r.URL.Query().Get("client_id")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, clientID, status)
	if err != nil {
		c.fail(w, r, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // already contains total_count, total_pages, page, page_size
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.Pause(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.Resume(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl model.EmailTemplate
	if err := decode(r, &tpl); err != nil {
		c.fail(w, r, err)
		return
	}
	campaign, err := c.CampaignService.UpdateTemplate(r.Context(), chi.URLParam(r, "id"), tpl, actor(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) RetryRecipients(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecipientIDs []string `json:"recipient_ids"`
	}
	if err := decode(r, &body); err != nil {
		c.fail(w, r, err)
		return
	}
	result, err := c.CampaignService.RetryRecipients(r.Context(), chi.URLParam(r, "id"), body.RecipientIDs, actor(r))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, result)
}

func (c *CampaignController) ListErrors(w http.ResponseWriter, r *http.Request) {
	errs, err := c.CampaignService.ListErrors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": errs})
}

func (c *CampaignController) ListRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := c.CampaignService.ListRecipients(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("status"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":  recipients,
		"count": len(recipients),
	})
}

// Routes mounts the staff API on r. Callers add authentication.
func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/clients/{id}/matches", c.FindMatches)
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Get("/campaigns/{id}", c.GetCampaignDetails)
	r.Post("/campaigns/{id}/pause", c.PauseCampaign)
	r.Post("/campaigns/{id}/resume", c.ResumeCampaign)
	r.Put("/campaigns/{id}/template", c.UpdateTemplate)
	r.Post("/campaigns/{id}/retry", c.RetryRecipients)
	r.Get("/campaigns/{id}/errors", c.ListErrors)
	r.Get("/campaigns/{id}/recipients", c.ListRecipients)
}

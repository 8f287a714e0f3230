// internal/handler/campaign_handler.go
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/service"
)

// transparentGIF is a 1x1 transparent GIF89a.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type OpenRecorder interface {
	RecordOpen(ctx context.Context, trackingID string) error
}

type ReportSource interface {
	Public(ctx context.Context, token string) (*service.PublicReport, error)
}

// CampaignHandler holds the unauthenticated campaign endpoints: the open
// tracking pixel and the public report.
type CampaignHandler struct {
	Opens   OpenRecorder
	Reports ReportSource
	Log     *zap.Logger
}

// TrackOpen records an open and always answers with the pixel.
func (h *CampaignHandler) TrackOpen(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(chi.URLParam(r, "trackingID"), ".gif")
	if id != "" {
		if err := h.Opens.RecordOpen(r.Context(), id); err != nil {
			logger.OrNop(h.Log).Debug("open not recorded", zap.String("tracking_id", id), zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(transparentGIF)
}

// PublicReport returns the aggregate report for a public token.
func (h *CampaignHandler) PublicReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reports.Public(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

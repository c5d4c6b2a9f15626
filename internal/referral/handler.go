package referral

import (
	"net/http"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/auth"
	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/pkg/request"
	"github.com/Niiaks/Patron/pkg/response"
)

type ReferralHandler struct {
	Engine *Engine
}

func NewReferralHandler(engine *Engine) *ReferralHandler {
	return &ReferralHandler{Engine: engine}
}

type GenerateLinkRequest struct {
	UserID  string `json:"userId" validate:"required"`
	EventID string `json:"eventId" validate:"required"`
}

type TrackClickRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type LinkResponse struct {
	URL string `json:"url"`
}

func (rh *ReferralHandler) GenerateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req GenerateLinkRequest
	if err := request.Decode(w, r, &req); err != nil {
		response.WriteError(w, err)
		return
	}
	if _, err := auth.RequireSelf(ctx, req.UserID); err != nil {
		response.WriteError(w, err)
		return
	}

	url, err := rh.Engine.GenerateLink(ctx, req.UserID, req.EventID)
	if err != nil {
		middleware.GetLogger(ctx).Warn().Err(err).Str("event_id", req.EventID).Msg("Failed to generate referral link")
		response.WriteError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, LinkResponse{URL: url})
}

func (rh *ReferralHandler) TrackClick(w http.ResponseWriter, r *http.Request) {
	var req TrackClickRequest
	if err := request.Decode(w, r, &req); err != nil {
		response.WriteError(w, err)
		return
	}

	if err := rh.Engine.TrackClick(r.Context(), req.Code); err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteOK(w)
}

func (rh *ReferralHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		response.WriteError(w, apperror.Unauthorized("authentication required"))
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = id.UserID
	}
	if _, err := auth.RequireSelf(ctx, userID); err != nil {
		response.WriteError(w, err)
		return
	}

	stats, err := rh.Engine.GetStats(ctx, userID, Period(r.URL.Query().Get("period")))
	if err != nil {
		response.WriteError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, stats)
}

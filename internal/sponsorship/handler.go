package sponsorship

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Niiaks/Patron/internal/apperror"
	"github.com/Niiaks/Patron/internal/auth"
	"github.com/Niiaks/Patron/internal/middleware"
	"github.com/Niiaks/Patron/pkg/request"
	"github.com/Niiaks/Patron/pkg/response"
)

type SponsorshipHandler struct {
	Engine *Engine
}

func NewSponsorshipHandler(engine *Engine) *SponsorshipHandler {
	return &SponsorshipHandler{Engine: engine}
}

type PledgeBody struct {
	EventID         string  `json:"eventId" validate:"required"`
	TierID          string  `json:"tierId" validate:"required,uuid"`
	UserID          string  `json:"userId" validate:"required"`
	PaymentMethodID string  `json:"paymentMethodId" validate:"required"`
	ReferralCode    *string `json:"referralCode,omitempty" validate:"omitempty,max=64"`
}

type PledgeResponse struct {
	SponsorshipID string `json:"sponsorshipId"`
}

func (sh *SponsorshipHandler) Pledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	var body PledgeBody
	if err := request.Decode(w, r, &body); err != nil {
		response.WriteError(w, err)
		return
	}
	if _, err := auth.RequireSelf(ctx, body.UserID); err != nil {
		response.WriteError(w, err)
		return
	}

	logger.Info().Str("event_id", body.EventID).Str("tier_id", body.TierID).Msg("Received sponsorship pledge")

	id, err := sh.Engine.Pledge(ctx, PledgeRequest{
		EventID:         body.EventID,
		TierID:          uuid.MustParse(body.TierID),
		UserID:          body.UserID,
		PaymentMethodID: body.PaymentMethodID,
		ReferralCode:    body.ReferralCode,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Sponsorship pledge failed")
		response.WriteError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, PledgeResponse{SponsorshipID: id.String()})
}

func (sh *SponsorshipHandler) Capture(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, apperror.Validation("invalid sponsorship id"))
		return
	}
	if err := sh.Engine.Capture(r.Context(), id); err != nil {
		middleware.GetLogger(r.Context()).Error().Err(err).Str("sponsorship_id", id.String()).Msg("Capture failed")
		response.WriteError(w, err)
		return
	}
	response.WriteOK(w)
}

func (sh *SponsorshipHandler) Release(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, apperror.Validation("invalid sponsorship id"))
		return
	}
	if err := sh.Engine.Release(r.Context(), id); err != nil {
		middleware.GetLogger(r.Context()).Error().Err(err).Str("sponsorship_id", id.String()).Msg("Release failed")
		response.WriteError(w, err)
		return
	}
	response.WriteOK(w)
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ndi-proof-backend/internal/correlation"
	"github.com/tbourn/ndi-proof-backend/internal/events"
	"github.com/tbourn/ndi-proof-backend/internal/http/middleware"
	"github.com/tbourn/ndi-proof-backend/internal/ndi"
	"github.com/tbourn/ndi-proof-backend/internal/sysutil"
)

// publishTimeout bounds event publication after the response is decided.
const publishTimeout = 5 * time.Second

// WebhookAck acknowledges deliveries that need no further action.
type WebhookAck struct {
	Status  string `json:"status,omitempty" example:"success"`
	Message string `json:"message" example:"Webhook already processed"`
}

// StoredProof is the stored verification as echoed to the webhook caller.
type StoredProof struct {
	Status             string    `json:"status" example:"success"`
	VerificationResult string    `json:"verification_result"`
	UserData           UserData  `json:"userData"`
	Timestamp          time.Time `json:"timestamp"`
	IsExistingUser     bool      `json:"isExistingUser"`
}

// WebhookResolved is returned when a delivery resolved a verification.
type WebhookResolved struct {
	Status      string      `json:"status" example:"success"`
	Message     string      `json:"message" example:"Registration successful"`
	ThreadID    string      `json:"threadId"`
	ProofResult StoredProof `json:"proofResult"`
}

// Webhook godoc
// @ID          ndiWebhook
// @Summary     NDI webhook
// @Description Receives NDI events. Only presentation results are acted upon; each provider thread is processed once.
// @Tags        Webhook
// @Accept      json
// @Produce     json
//
// @Param       Authorization  header  string  false  "Bearer <NDI_WEBHOOK_TOKEN>"
//
// @Success     200  {object}  handlers.WebhookAck       "Ignored, duplicate or existing user"
// @Success     201  {object}  handlers.WebhookResolved  "New user registered"
// @Failure     400  {object}  handlers.ErrorResponse    "Empty body or missing attributes"
// @Failure     401  {object}  handlers.ErrorResponse    "Bad webhook token"
// @Failure     500  {object}  handlers.ErrorResponse    "Unknown thread or identity failure"
// @Router      /webhook [post]
func (h *Handlers) Webhook(c *gin.Context) {
	lg := middleware.LoggerFrom(c)

	raw, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "Empty request body")
		return
	}
	ev, err := ndi.DecodeWebhookEvent(raw)
	if err != nil {
		lg.Warn().Err(err).Msg("rejecting webhook body")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "Empty request body")
		return
	}

	if !ev.IsPresentationResult() {
		lg.Info().
			Str("type", sysutil.FirstNonEmpty(ev.Type, "unknown")).
			Str("provider_thread_id", ev.ThreadID).
			Msg("webhook message ignored")
		ok(c, http.StatusOK, WebhookAck{Message: "Webhook processed successfully"})
		return
	}

	lg.Info().
		Str("provider_thread_id", ev.ThreadID).
		Str("outcome", ev.VerificationResult).
		Str("relationship_did", ev.RelationshipDID).
		Str("holder_did", ev.HolderDID).
		Msg("proof presentation received")

	out, err := h.svc.HandleNotification(c.Request.Context(), ev.Notification())
	switch {
	case errors.Is(err, correlation.ErrMissingAttributes):
		fail(c, http.StatusBadRequest, ErrCodeMissingAttributes, "Name or ID not found in revealed attributes")
		return
	case err != nil:
		lg.Error().Err(err).Str("provider_thread_id", ev.ThreadID).Msg("processing user failed")
		fail(c, http.StatusInternalServerError, ErrCodeIdentityFailed, "Failed to process user")
		return
	}

	switch out.Disposition {
	case correlation.Duplicate:
		ok(c, http.StatusOK, WebhookAck{Status: "success", Message: "Webhook already processed"})
	case correlation.UnresolvedProvider:
		fail(c, http.StatusInternalServerError, ErrCodeUnknownThread, "Thread ID mapping not found")
	case correlation.Resolved:
		res := *out.Result
		h.publish(c, res)
		status := http.StatusCreated
		if res.IsExistingUser {
			status = http.StatusOK
		}
		ok(c, status, WebhookResolved{
			Status:   "success",
			Message:  resultMessage(res.IsExistingUser),
			ThreadID: res.LocalThreadID,
			ProofResult: StoredProof{
				Status:             "success",
				VerificationResult: res.Outcome,
				UserData:           h.userData(res.UserAttributes),
				Timestamp:          res.RecordedAt,
				IsExistingUser:     res.IsExistingUser,
			},
		})
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
	}
}

// publish emits the verification event. Failures are logged and never change
// the webhook response; the verdict is already recorded.
func (h *Handlers) publish(c *gin.Context, res correlation.VerificationResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), publishTimeout)
	defer cancel()
	ev := events.NewVerificationEvent(res, h.opts.IDAttribute, h.opts.NameAttribute)
	if err := h.pub.PublishVerification(ctx, ev); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).
			Str("thread_id", res.LocalThreadID).
			Msg("publish verification event failed")
	}
}

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
	"github.com/tbourn/ndi-proof-backend/internal/qr"
)

// Correlator is the slice of correlation.Service the handlers use.
type Correlator interface {
	Begin() string
	Abandon(localID string) bool
	RegisterProviderThread(localID, providerID string) error
	HandleNotification(ctx context.Context, n correlation.Notification) (correlation.Outcome, error)
	GetStatus(localID string) (correlation.VerificationResult, correlation.Status, error)
	Stats() correlation.Stats
}

// Verifier is the slice of ndi.Client the handlers use.
type Verifier interface {
	CreateProofRequest(ctx context.Context, spec ndi.ProofSpec) (ndi.ProofRequest, error)
	Subscribe(ctx context.Context, providerThreadID string) error
}

// Options configures Handlers.
type Options struct {
	// ProofSpec is sent with every proof request.
	ProofSpec ndi.ProofSpec
	// IDAttribute and NameAttribute name the revealed attributes rendered as
	// userData.ID and userData.Name.
	IDAttribute   string
	NameAttribute string
	// QRSize is the edge of the QR PNG in pixels; 0 disables the QR code.
	QRSize int
}

// Handlers groups the proof and webhook endpoints.
type Handlers struct {
	svc      Correlator
	verifier Verifier
	pub      events.Publisher
	opts     Options
}

// New binds the handlers to their collaborators. A nil publisher discards
// events.
func New(svc Correlator, verifier Verifier, pub events.Publisher, opts Options) *Handlers {
	if pub == nil {
		pub = events.Nop{}
	}
	if opts.IDAttribute == "" {
		opts.IDAttribute = correlation.DefaultIDAttribute
	}
	if opts.NameAttribute == "" {
		opts.NameAttribute = correlation.DefaultNameAttribute
	}
	return &Handlers{svc: svc, verifier: verifier, pub: pub, opts: opts}
}

//
// DTOs
//

// ProofRequestData is the body of a created proof request.
type ProofRequestData struct {
	ProofRequestURL string `json:"proofRequestURL" example:"https://stageclient.bhutanndi.com/..."`
	DeepLinkURL     string `json:"deepLinkURL,omitempty"`
	ThreadID        string `json:"threadId" example:"thread_1714557600000_k3j9x0q1z"`
	// base64 PNG of ProofRequestURL
	QRCodePNG string `json:"qrCodePng,omitempty"`
}

// ProofRequestResponse wraps ProofRequestData.
type ProofRequestResponse struct {
	Data ProofRequestData `json:"data"`
}

// UserData is the verified identity as shown to clients.
type UserData struct {
	Name string `json:"Name" example:"Karma Wangmo"`
	ID   string `json:"ID" example:"10203004567"`
}

// ProofResultResponse is returned once a verification has been recorded.
type ProofResultResponse struct {
	Status             string    `json:"status" example:"success"`
	Message            string    `json:"message" example:"Registration successful"`
	ThreadID           string    `json:"threadId"`
	VerificationResult string    `json:"verification_result" example:"ProofValidated"`
	UserData           UserData  `json:"userData"`
	IsExistingUser     bool      `json:"isExistingUser"`
	Timestamp          time.Time `json:"timestamp"`
}

// PendingResponse is returned while the holder has not answered yet.
type PendingResponse struct {
	Status   string `json:"status" example:"pending"`
	Message  string `json:"message" example:"Proof verification in progress"`
	ThreadID string `json:"threadId"`
}

func (h *Handlers) userData(attrs map[string]string) UserData {
	return UserData{Name: attrs[h.opts.NameAttribute], ID: attrs[h.opts.IDAttribute]}
}

func resultMessage(existing bool) string {
	if existing {
		return "User already exists"
	}
	return "Registration successful"
}

//
// Handlers
//

// CreateProofRequest godoc
// @ID          createProofRequest
// @Summary     Create a proof request
// @Description Asks NDI for a new proof request and returns its URL, a QR code and the local thread id to poll.
// @Tags        Proofs
// @Produce     json
//
// @Success     201  {object}  handlers.ProofRequestResponse
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     502  {object}  handlers.ErrorResponse  "NDI unavailable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /proof-request [post]
func (h *Handlers) CreateProofRequest(c *gin.Context) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)

	localID := h.svc.Begin()

	pr, err := h.verifier.CreateProofRequest(ctx, h.opts.ProofSpec)
	if err != nil {
		lg.Error().Err(err).Str("thread_id", localID).Msg("create proof request failed")
		h.svc.Abandon(localID)
		if errors.Is(err, ndi.ErrVerifierUnavailable) {
			fail(c, http.StatusBadGateway, ErrCodeVerifierFailed, "Failed to create proof request")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "Failed to create proof request")
		return
	}

	if err := h.svc.RegisterProviderThread(localID, pr.ThreadID); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "Failed to register proof request")
		return
	}

	// A missed subscription only means the webhook never arrives; the client
	// still gets a usable proof request.
	if err := h.verifier.Subscribe(ctx, pr.ThreadID); err != nil {
		lg.Warn().Err(err).
			Str("thread_id", localID).
			Str("provider_thread_id", pr.ThreadID).
			Msg("webhook subscription failed")
	}

	data := ProofRequestData{
		ProofRequestURL: pr.URL,
		DeepLinkURL:     pr.DeepLinkURL,
		ThreadID:        localID,
	}
	if h.opts.QRSize > 0 {
		png, err := qr.Base64PNG(pr.URL, h.opts.QRSize)
		if err != nil {
			lg.Warn().Err(err).Str("thread_id", localID).Msg("qr rendering failed")
		} else {
			data.QRCodePNG = png
		}
	}

	lg.Info().
		Str("thread_id", localID).
		Str("provider_thread_id", pr.ThreadID).
		Msg("proof request created")
	ok(c, http.StatusCreated, ProofRequestResponse{Data: data})
}

// GetProofResult godoc
// @ID          getProofResult
// @Summary     Poll a proof result
// @Description Returns the recorded verification for a thread id, 202 while the holder has not answered, or 404.
// @Tags        Proofs
// @Produce     json
//
// @Param       threadId  path  string  true  "Local thread id"  example(thread_1714557600000_k3j9x0q1z)
//
// @Success     200  {object}  handlers.ProofResultResponse
// @Success     202  {object}  handlers.PendingResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid thread ID format"
// @Failure     404  {object}  handlers.ErrorResponse  "Proof result not found"
// @Router      /proof-results/{threadId} [get]
func (h *Handlers) GetProofResult(c *gin.Context) {
	id := c.Param("threadId")

	res, st, err := h.svc.GetStatus(id)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidThreadID, "Invalid thread ID format")
		return
	}

	switch st {
	case correlation.StatusResolved:
		ok(c, http.StatusOK, ProofResultResponse{
			Status:             "success",
			Message:            resultMessage(res.IsExistingUser),
			ThreadID:           id,
			VerificationResult: res.Outcome,
			UserData:           h.userData(res.UserAttributes),
			IsExistingUser:     res.IsExistingUser,
			Timestamp:          res.RecordedAt,
		})
	case correlation.StatusPending:
		ok(c, http.StatusAccepted, PendingResponse{
			Status:   "pending",
			Message:  "Proof verification in progress",
			ThreadID: id,
		})
	default:
		fail(c, http.StatusNotFound, ErrCodeNotFound, "Proof result not found")
	}
}

// HealthResponse reports liveness and store sizes.
type HealthResponse struct {
	Status string            `json:"status" example:"ok"`
	Stores correlation.Stats `json:"stores"`
}

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{Status: "ok", Stores: h.svc.Stats()})
}

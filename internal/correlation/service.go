package correlation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/ndi-proof-backend/internal/clock"
)

// Default attribute names revealed by the verifier and the default expiry
// horizon for every store.
const (
	DefaultIDAttribute   = "ID Number"
	DefaultNameAttribute = "Full Name"
	DefaultTTL           = time.Hour
)

var tracer = otel.Tracer("github.com/tbourn/ndi-proof-backend/internal/correlation")

// IdentityStore is the persistent user directory consulted while handling a
// notification.
type IdentityStore interface {
	// FindByExternalID returns (nil, nil) when no identity matches.
	FindByExternalID(ctx context.Context, externalID string) (*Identity, error)
	// Create returns ErrIdentityExists when externalID is already taken.
	Create(ctx context.Context, identity Identity) (*Identity, error)
}

// Service orchestrates the correlation stores. A single mutex guards
// transitions that touch more than one store; identity lookups run outside it.
type Service struct {
	Identities IdentityStore
	Clock      clock.Clock
	Log        zerolog.Logger

	PendingTTL time.Duration
	ResultTTL  time.Duration
	ReceiptTTL time.Duration

	IDAttribute   string
	NameAttribute string

	gen     *ThreadIDGenerator
	store   *CorrelationStore
	pending *PendingRegistry
	results *ResultCache
	dedup   *WebhookDeduplicator

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewService wires fresh stores around identities. clk may be nil.
func NewService(identities IdentityStore, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	pending := NewPendingRegistry()
	return &Service{
		Identities:    identities,
		Clock:         clk,
		Log:           logger,
		PendingTTL:    DefaultTTL,
		ResultTTL:     DefaultTTL,
		ReceiptTTL:    DefaultTTL,
		IDAttribute:   DefaultIDAttribute,
		NameAttribute: DefaultNameAttribute,
		gen:           NewThreadIDGenerator(clk),
		store:         NewCorrelationStore(),
		pending:       pending,
		results:       NewResultCache(pending),
		dedup:         NewWebhookDeduplicator(),
		inflight:      make(map[string]struct{}),
	}
}

// Begin mints a local thread id, registers it and marks it pending.
func (s *Service) Begin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		id := s.gen.Generate()
		if err := s.store.Create(id); err != nil {
			// Only ErrDuplicateID is possible here.
			s.Log.Error().Err(err).Str("thread_id", id).Msg("thread id collision")
			continue
		}
		s.pending.MarkPending(id, s.Clock.Now())
		pendingGauge.Set(float64(s.pending.Len()))
		return id
	}
}

// RegisterProviderThread attaches providerID to a local id returned by Begin.
func (s *Service) RegisterProviderThread(localID, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.AttachProvider(localID, providerID); err != nil {
		return err
	}
	s.Log.Debug().
		Str("thread_id", localID).
		Str("provider_thread_id", providerID).
		Msg("provider thread registered")
	return nil
}

// Abandon drops a local id whose proof request never reached the verifier.
// Ids that already carry a provider thread are left untouched.
func (s *Service) Abandon(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.store.RemoveUnattached(localID) {
		return false
	}
	s.pending.Clear(localID)
	pendingGauge.Set(float64(s.pending.Len()))
	s.Log.Debug().Str("thread_id", localID).Msg("proof request abandoned")
	return true
}

// HandleNotification records the verifier's verdict for one provider thread.
//
// The dedup guard is claimed before the identity lookup and released if the
// lookup fails, so a concurrent redelivery is answered Duplicate while a
// failed attempt can still be retried.
func (s *Service) HandleNotification(ctx context.Context, n Notification) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "correlation.HandleNotification")
	defer span.End()
	span.SetAttributes(attribute.String("provider_thread_id", n.ProviderThreadID))

	out, idNumber, name, err := s.claim(n)
	if err != nil || out.Disposition != 0 {
		if out.Disposition != 0 {
			notificationsTotal.WithLabelValues(out.Disposition.String()).Inc()
			span.SetAttributes(attribute.String("disposition", out.Disposition.String()))
		}
		if err != nil {
			notificationsTotal.WithLabelValues("invalid").Inc()
			span.SetStatus(codes.Error, err.Error())
		}
		return out, err
	}
	localID := out.LocalThreadID

	existing, err := s.resolveIdentity(ctx, idNumber, name)
	if err != nil {
		s.release(n.ProviderThreadID)
		notificationsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity lookup failed")
		return Outcome{}, fmt.Errorf("resolve identity: %w", err)
	}

	now := s.Clock.Now()
	result := VerificationResult{
		LocalThreadID:    localID,
		ProviderThreadID: n.ProviderThreadID,
		Outcome:          n.Outcome,
		UserAttributes:   cloneAttributes(n.Attributes),
		IsExistingUser:   existing,
		RecordedAt:       now,
	}

	s.mu.Lock()
	s.dedup.MarkProcessed(n.ProviderThreadID, existing, now)
	s.results.Put(localID, result)
	s.pending.Clear(localID)
	delete(s.inflight, n.ProviderThreadID)
	pendingGauge.Set(float64(s.pending.Len()))
	s.mu.Unlock()

	notificationsTotal.WithLabelValues(Resolved.String()).Inc()
	span.SetAttributes(attribute.String("disposition", Resolved.String()))
	s.Log.Info().
		Str("thread_id", localID).
		Str("provider_thread_id", n.ProviderThreadID).
		Str("outcome", n.Outcome).
		Bool("existing_user", existing).
		Msg("verification resolved")

	return Outcome{Disposition: Resolved, LocalThreadID: localID, Result: &result}, nil
}

// claim performs the in-memory checks under the lock. A non-zero Disposition
// or an error ends processing; otherwise the provider id is now in flight.
func (s *Service) claim(n Notification) (Outcome, string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dedup.AlreadyProcessed(n.ProviderThreadID) {
		local, _ := s.store.ResolveLocal(n.ProviderThreadID)
		return Outcome{Disposition: Duplicate, LocalThreadID: local}, "", "", nil
	}
	if _, busy := s.inflight[n.ProviderThreadID]; busy {
		local, _ := s.store.ResolveLocal(n.ProviderThreadID)
		return Outcome{Disposition: Duplicate, LocalThreadID: local}, "", "", nil
	}

	localID, ok := s.store.ResolveLocal(n.ProviderThreadID)
	if !ok {
		s.Log.Error().
			Str("provider_thread_id", n.ProviderThreadID).
			Str("outcome", n.Outcome).
			Int("attribute_count", len(n.Attributes)).
			Msg("notification for unknown provider thread")
		return Outcome{Disposition: UnresolvedProvider}, "", "", nil
	}
	// A stored result is terminal even after its receipt has been swept.
	if _, st := s.results.Get(localID); st == StatusResolved {
		return Outcome{Disposition: Duplicate, LocalThreadID: localID}, "", "", nil
	}

	idNumber := strings.TrimSpace(n.Attributes[s.IDAttribute])
	name := strings.TrimSpace(n.Attributes[s.NameAttribute])
	if idNumber == "" || name == "" {
		s.Log.Warn().
			Str("thread_id", localID).
			Str("provider_thread_id", n.ProviderThreadID).
			Msg("notification missing required attributes")
		return Outcome{}, "", "", ErrMissingAttributes
	}

	s.inflight[n.ProviderThreadID] = struct{}{}
	return Outcome{LocalThreadID: localID}, idNumber, name, nil
}

func (s *Service) release(providerID string) {
	s.mu.Lock()
	delete(s.inflight, providerID)
	s.mu.Unlock()
}

// resolveIdentity reports whether the identity was already known, creating it
// otherwise.
func (s *Service) resolveIdentity(ctx context.Context, idNumber, name string) (bool, error) {
	if s.Identities == nil {
		return false, nil
	}
	found, err := s.Identities.FindByExternalID(ctx, idNumber)
	if err != nil {
		return false, err
	}
	if found != nil {
		return true, nil
	}
	if _, err := s.Identities.Create(ctx, Identity{ExternalID: idNumber, Name: name}); err != nil {
		if errors.Is(err, ErrIdentityExists) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// GetStatus answers a polling client. Malformed ids return ErrInvalidThreadID.
func (s *Service) GetStatus(localID string) (VerificationResult, Status, error) {
	if !IsValid(localID) {
		return VerificationResult{}, StatusNotFound, ErrInvalidThreadID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, st := s.results.Get(localID)
	return res, st, nil
}

// SweepReport lists what one Sweep evicted.
type SweepReport struct {
	Pending  []string
	Results  []string
	Receipts []string
}

// Sweep evicts expired pending markers, results and receipts. Correlation
// entries are kept so late duplicate deliveries still resolve.
func (s *Service) Sweep(now time.Time) SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep := SweepReport{
		Pending:  s.pending.SweepExpired(now, s.PendingTTL),
		Results:  s.results.SweepExpired(now, s.ResultTTL),
		Receipts: s.dedup.SweepExpired(now, s.ReceiptTTL),
	}
	evictionsTotal.WithLabelValues("pending").Add(float64(len(rep.Pending)))
	evictionsTotal.WithLabelValues("results").Add(float64(len(rep.Results)))
	evictionsTotal.WithLabelValues("receipts").Add(float64(len(rep.Receipts)))
	pendingGauge.Set(float64(s.pending.Len()))
	return rep
}

// ResolveLocal exposes the reverse lookup for diagnostics and tests.
func (s *Service) ResolveLocal(providerID string) (string, bool) {
	return s.store.ResolveLocal(providerID)
}

// Stats is a point-in-time count of each store.
type Stats struct {
	Correlations int `json:"correlations"`
	Pending      int `json:"pending"`
	Results      int `json:"results"`
	Receipts     int `json:"receipts"`
}

// Stats returns the current store sizes.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Correlations: s.store.Len(),
		Pending:      s.pending.Len(),
		Results:      s.results.Len(),
		Receipts:     s.dedup.Len(),
	}
}

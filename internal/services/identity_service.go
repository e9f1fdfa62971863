// Package services – IdentityService
//
// IdentityService is the user directory consulted when a verification result
// arrives. It normalizes names (NFC, collapsed whitespace), and maps the
// repository's unique-violation error to correlation.ErrIdentityExists so the
// correlation core treats a concurrent registration as an existing user.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/ndi-proof-backend/internal/correlation"
	"github.com/tbourn/ndi-proof-backend/internal/domain"
	"github.com/tbourn/ndi-proof-backend/internal/repo"
)

var tracer = otel.Tracer("github.com/tbourn/ndi-proof-backend/internal/services")

// UserRepo defines the repository contract required by IdentityService.
type UserRepo interface {
	// FindUserByIDNumber returns repo.ErrNotFound when no user matches.
	FindUserByIDNumber(ctx context.Context, db *gorm.DB, idNumber string) (*domain.User, error)
	// CreateUser returns repo.ErrDuplicate on a unique violation.
	CreateUser(ctx context.Context, db *gorm.DB, idNumber, name string) (*domain.User, error)
}

// gormUsers adapts the repo free functions to UserRepo.
type gormUsers struct{}

func (gormUsers) FindUserByIDNumber(ctx context.Context, db *gorm.DB, idNumber string) (*domain.User, error) {
	return repo.FindUserByIDNumber(ctx, db, idNumber)
}

func (gormUsers) CreateUser(ctx context.Context, db *gorm.DB, idNumber, name string) (*domain.User, error) {
	return repo.CreateUser(ctx, db, idNumber, name)
}

// IdentityService implements correlation.IdentityStore over GORM.
type IdentityService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the user repository used by this service.
	Repo UserRepo

	// NameMaxLen caps stored names by rune length.
	NameMaxLen int
}

var _ correlation.IdentityStore = (*IdentityService)(nil)

// NewIdentityService constructs an IdentityService backed by the repo package.
func NewIdentityService(db *gorm.DB) *IdentityService {
	return &IdentityService{DB: db, Repo: gormUsers{}, NameMaxLen: 255}
}

// FindByExternalID returns the identity registered under externalID, or
// (nil, nil) when there is none.
func (s *IdentityService) FindByExternalID(ctx context.Context, externalID string) (*correlation.Identity, error) {
	ctx, span := tracer.Start(ctx, "IdentityService.FindByExternalID")
	defer span.End()

	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrEmptyIDNumber
	}
	u, err := s.Repo.FindUserByIDNumber(ctx, s.DB, externalID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			span.SetAttributes(attribute.Bool("identity.found", false))
			return nil, nil
		}
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("identity.found", true))
	return &correlation.Identity{ExternalID: u.IDNumber, Name: u.Name}, nil
}

// Create registers a new identity. A unique violation is reported as
// correlation.ErrIdentityExists.
func (s *IdentityService) Create(ctx context.Context, identity correlation.Identity) (*correlation.Identity, error) {
	ctx, span := tracer.Start(ctx, "IdentityService.Create")
	defer span.End()

	id := strings.TrimSpace(identity.ExternalID)
	if id == "" {
		return nil, ErrEmptyIDNumber
	}
	name := s.clip(NormalizeName(identity.Name))
	if name == "" {
		return nil, ErrEmptyName
	}
	u, err := s.Repo.CreateUser(ctx, s.DB, id, name)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, correlation.ErrIdentityExists
		}
		span.RecordError(err)
		return nil, err
	}
	return &correlation.Identity{ExternalID: u.IDNumber, Name: u.Name}, nil
}

func (s *IdentityService) clip(name string) string {
	if s.NameMaxLen > 0 && utf8.RuneCountInString(name) > s.NameMaxLen {
		return string([]rune(name)[:s.NameMaxLen])
	}
	return name
}

// NormalizeName converts name to NFC, trims it and collapses runs of
// whitespace to a single space.
func NormalizeName(name string) string {
	name = norm.NFC.String(name)
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(name), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

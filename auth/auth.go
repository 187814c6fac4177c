/*
Package auth identifies API callers and decides who may mark attendance.

PURPOSE:
  Callers present an HS256 bearer token whose claims carry the principal's
  role and hub. The API middleware parses it into a Principal and stores it
  on the request context; handlers combine it with the directory to compute
  the engine's authorization precondition.

WHO MAY MARK ATTENDANCE:
  admin            any fellow at any school
  hub-coordinator  fellows of their hub at a school in their hub
  supervisor       only fellows they supervise, at a school in the fellow's hub
  clinical-lead    nobody
  fellow           nobody

WHO MAY READ A FELLOW'S ATTENDANCE:
  admin                           every fellow
  hub-coordinator, clinical-lead  fellows of their hub
  supervisor                      only fellows they supervise
  fellow                          only themselves

USAGE:
  tokens := auth.NewTokens(secret, 12*time.Hour)
  r.Use(tokens.Middleware)

  p, ok := auth.FromContext(r.Context())
  allowed := auth.CanMarkAttendance(p, fellow, school)
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shamiri/attendance-engine/program"
)

type Role string

const (
	RoleAdmin          Role = "admin"
	RoleHubCoordinator Role = "hub-coordinator"
	RoleSupervisor     Role = "supervisor"
	RoleClinicalLead   Role = "clinical-lead"
	RoleFellow         Role = "fellow"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHubCoordinator, RoleSupervisor, RoleClinicalLead, RoleFellow:
		return true
	}
	return false
}

var (
	ErrMissingToken = errors.New("authorization header is required")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Principal is the authenticated caller.
type Principal struct {
	ID    string
	Role  Role
	HubID string
}

// Claims is the JWT payload.
type Claims struct {
	Role  Role   `json:"role"`
	HubID string `json:"hub_id,omitempty"`
	jwt.RegisteredClaims
}

// =============================================================================
// TOKENS
// =============================================================================

type Tokens struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

func (t *Tokens) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

// Issue signs a token for p.
func (t *Tokens) Issue(p Principal) (string, error) {
	if p.ID == "" || !p.Role.Valid() {
		return "", fmt.Errorf("cannot issue token: invalid principal %q/%q", p.ID, p.Role)
	}
	now := t.now()
	claims := Claims{
		Role:  p.Role,
		HubID: p.HubID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
}

// Parse validates a signed token and returns its principal.
func (t *Tokens) Parse(tokenString string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.Secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return Principal{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}
	return Principal{ID: claims.Subject, Role: claims.Role, HubID: claims.HubID}, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// Middleware rejects requests without a valid "Bearer <token>" header and
// stores the principal on the context.
func (t *Tokens) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			unauthorized(w, ErrMissingToken.Error())
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(w, "authorization header must be in the format: Bearer {token}")
			return
		}
		p, err := t.Parse(parts[1])
		if err != nil {
			unauthorized(w, ErrInvalidToken.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, "{\"error\":%q}\n", msg)
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

// CanMarkAttendance reports whether p may toggle attendance for fellow at
// school. school may be nil when it is unknown; only admins pass then.
// Non-admins also need the fellow and the school to be in the same hub.
func CanMarkAttendance(p Principal, fellow program.Fellow, school *program.School) bool {
	if p.Role == RoleAdmin {
		return true
	}
	if school == nil || school.HubID == "" || fellow.HubID != school.HubID {
		return false
	}
	switch p.Role {
	case RoleSupervisor:
		return fellow.SupervisorID != "" && fellow.SupervisorID == p.ID
	case RoleHubCoordinator:
		return p.HubID != "" && school.HubID == p.HubID
	}
	return false
}

// CanViewFellow reports whether p may read fellow's attendance and delayed
// payment requests.
func CanViewFellow(p Principal, fellow program.Fellow) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleHubCoordinator, RoleClinicalLead:
		return p.HubID != "" && fellow.HubID == p.HubID
	case RoleSupervisor:
		return fellow.SupervisorID != "" && fellow.SupervisorID == p.ID
	case RoleFellow:
		return fellow.ID == p.ID
	}
	return false
}

// CanManageProgram reports whether p may edit schools, fellows and sessions
// or run reconciliation.
func CanManageProgram(p Principal) bool {
	return p.Role == RoleAdmin || p.Role == RoleHubCoordinator
}

package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/healwise/apiserver/internal/apperr"
	"github.com/healwise/apiserver/types"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestIssuer(t *testing.T, clock *fakeClock) *Issuer {
	t.Helper()
	issuer, err := NewIssuer("test-secret", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	return issuer
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer("   "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	issuer := newTestIssuer(t, clock)

	for _, role := range []types.Role{types.RolePatient, types.RoleDoctor, types.RoleAdmin} {
		signed, err := issuer.Issue(42, role)
		if err != nil {
			t.Fatalf("Issue(%s) error = %v", role, err)
		}
		identity, err := issuer.Verify(signed)
		if err != nil {
			t.Fatalf("Verify(%s) error = %v", role, err)
		}
		if identity.ID != 42 || identity.Role != role {
			t.Fatalf("identity = %+v, want {42 %s}", identity, role)
		}
	}
}

func TestExpiryBoundary(t *testing.T) {
	issuedAt := time.Unix(1_700_000_000, 0)
	clock := &fakeClock{now: issuedAt}
	issuer := newTestIssuer(t, clock)

	signed, err := issuer.Issue(7, types.RolePatient)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	clock.now = issuedAt.Add(7*24*time.Hour - time.Second)
	if _, err := issuer.Verify(signed); err != nil {
		t.Fatalf("Verify() one second before expiry error = %v", err)
	}

	clock.now = issuedAt.Add(7 * 24 * time.Hour)
	if _, err := issuer.Verify(signed); !errors.Is(err, apperr.ErrAuthentication) {
		t.Fatalf("Verify() at expiry error = %v, want authentication error", err)
	}
}

func TestClaimsShape(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	issuer := newTestIssuer(t, clock)

	signed, err := issuer.Issue(3, types.RoleDoctor)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(signed, claims); err != nil {
		t.Fatalf("ParseUnverified() error = %v", err)
	}
	user, ok := claims["user"].(map[string]any)
	if !ok {
		t.Fatalf("claims[user] = %T, want object", claims["user"])
	}
	if user["id"] != float64(3) || user["role"] != "doctor" {
		t.Fatalf("claims[user] = %v", user)
	}
	exp, _ := claims.GetExpirationTime()
	iat, _ := claims.GetIssuedAt()
	if exp.Sub(iat.Time) != DefaultTTL {
		t.Fatalf("exp - iat = %v, want %v", exp.Sub(iat.Time), DefaultTTL)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	issuer := newTestIssuer(t, clock)
	other, err := NewIssuer("other-secret", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}

	foreign, err := other.Issue(1, types.RoleAdmin)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		User: types.Identity{ID: 1, Role: types.RoleAdmin},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	valid, err := issuer.Issue(1, types.RolePatient)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	for name, tok := range map[string]string{
		"wrong secret": foreign,
		"alg none":     unsigned,
		"tampered":     tampered,
		"garbage":      "not-a-token",
		"empty":        "",
	} {
		if _, err := issuer.Verify(tok); !errors.Is(err, apperr.ErrAuthentication) {
			t.Fatalf("Verify(%s) error = %v, want authentication error", name, err)
		}
	}
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	issuer := newTestIssuer(t, clock)

	signed, err := issuer.Issue(5, types.Role("superuser"))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := issuer.Verify(signed); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}

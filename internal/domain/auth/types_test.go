package auth

import (
	"testing"
	"time"
)

func TestNormalizeRole_Spellings(t *testing.T) {
	cases := map[string]Role{
		"WHOLESALER":        RoleWholesaler,
		"wholesaler":        RoleWholesaler,
		" Wholesaler ":      RoleWholesaler,
		"FARMER":            RoleFarmer,
		"farmer":            RoleFarmer,
		"COMMERCIAL_BUYER":  RoleCommercialBuyer,
		"commercial_buyer":  RoleCommercialBuyer,
		"commercialBuyer":   RoleCommercialBuyer,
		"CommercialBuyer":   RoleCommercialBuyer,
		"commercial-buyer":  RoleCommercialBuyer,
		"Commercial Buyer":  RoleCommercialBuyer,
		"BASE_USER":         RoleBaseUser,
		"baseUser":          RoleBaseUser,
		"base-user":         RoleBaseUser,
		"base_user":         RoleBaseUser,
		"":                  RoleUnknown,
		"   ":               RoleUnknown,
		"ADMIN":             RoleUnknown,
		"commercial_buyers": RoleUnknown,
	}
	for in, want := range cases {
		if got := NormalizeRole(in); got != want {
			t.Errorf("NormalizeRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRole_HomePath(t *testing.T) {
	want := map[Role]string{
		RoleWholesaler:      "/wholesaler",
		RoleFarmer:          "/farmer",
		RoleCommercialBuyer: "/commercial-buyer",
		RoleBaseUser:        "/base-user",
		RoleUnknown:         "/",
		Role("OTHER"):       "/",
	}
	for role, path := range want {
		if got := role.HomePath(); got != path {
			t.Errorf("%q.HomePath() = %q, want %q", role, got, path)
		}
	}
}

func TestSession_Authenticated(t *testing.T) {
	now := time.Now()

	if (Session{Role: RoleFarmer}).Authenticated(now) {
		t.Fatalf("cached role without token must not authenticate")
	}
	if !(Session{Token: "t", ExpiresAt: now.Add(time.Minute)}).Authenticated(now) {
		t.Fatalf("expected unexpired token to authenticate")
	}
	if (Session{Token: "t", ExpiresAt: now}).Authenticated(now) {
		t.Fatalf("session must be expired once now >= expiresAt")
	}
}

func TestSession_AuthorizationHeader(t *testing.T) {
	if got := (Session{Token: "abc"}).AuthorizationHeader(); got != "Bearer abc" {
		t.Fatalf("unexpected header %q", got)
	}
	if got := (Session{Token: "abc", TokenType: "MAC"}).AuthorizationHeader(); got != "MAC abc" {
		t.Fatalf("unexpected header %q", got)
	}
	if got := (Session{}).AuthorizationHeader(); got != "" {
		t.Fatalf("expected empty header, got %q", got)
	}
}

package security

import (
	"errors"
	"testing"
	"time"
)

func TestTokenProvider_AccessRoundTrip(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	issued, err := p.IssueAccess("s1", "u1", "dev@example.com")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if issued.Token == "" || issued.JTI == "" {
		t.Fatal("token or jti empty")
	}
	if !issued.ExpiresAt.After(time.Now()) {
		t.Fatal("expiry in the past")
	}
	claims, err := p.ValidateAccess(issued.Token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.SessionID != "s1" || claims.Subject != "u1" || claims.Email != "dev@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenProvider_RefreshRoundTrip(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	issued, err := p.IssueRefresh("s1", "u1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	claims, err := p.ValidateRefresh(issued.Token)
	if err != nil {
		t.Fatalf("ValidateRefresh: %v", err)
	}
	if claims.ID != issued.JTI || claims.SessionID != "s1" || claims.Subject != "u1" {
		t.Errorf("claims = %+v, issued jti %s", claims, issued.JTI)
	}
}

func TestTokenProvider_Expired(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	issued, err := p.IssueAccess("s1", "u1", "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	p.nowF = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := p.ValidateAccess(issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateAccess expired: err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenProvider_WrongAudience(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	issued, err := p.IssueRefresh("s1", "u1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	other := NewTokenProvider(p.privateKey, p.publicKey, p.issuer, "another-app", time.Minute, time.Hour)
	if _, err := other.ValidateRefresh(issued.Token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateRefresh wrong audience: err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenProvider_Garbage(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, err := p.ValidateAccess("invalid-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateAccess: err = %v", err)
	}
	if _, err := p.ValidateRefresh(""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateRefresh: err = %v", err)
	}
}

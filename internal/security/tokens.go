package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed, expired or signed by another key.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims are carried by the short-lived access token. The token names
// the principal only; the active organization is client-side state.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	Email     string `json:"email,omitempty"`
}

// RefreshClaims are carried by the refresh token. Its jti is bound to the
// session row for rotation.
type RefreshClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// Issued is a signed token with its id and expiry.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenProvider issues and validates JWT access and refresh tokens using RS256 or ES256.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	method     jwt.SigningMethod
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	nowF       func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with privateKey and
// verifies with publicKey. issuer and audience are set on issue and enforced
// on validation.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	var method jwt.SigningMethod
	switch KeyAlg(privateKey.Public()) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	}
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		method:     method,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		nowF:       func() time.Time { return time.Now().UTC() },
	}
}

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues an access token for the session's user.
func (p *TokenProvider) IssueAccess(sessionID, userID, email string) (Issued, error) {
	rc, err := p.registered(userID, p.accessTTL)
	if err != nil {
		return Issued{}, err
	}
	return p.sign(&AccessClaims{RegisteredClaims: rc, SessionID: sessionID, Email: email})
}

// IssueRefresh issues a refresh token. Callers store the returned JTI and the
// token hash on the session row.
func (p *TokenProvider) IssueRefresh(sessionID, userID string) (Issued, error) {
	rc, err := p.registered(userID, p.refreshTTL)
	if err != nil {
		return Issued{}, err
	}
	return p.sign(&RefreshClaims{RegisteredClaims: rc, SessionID: sessionID})
}

// ValidateAccess verifies signature, expiry, issuer and audience of an access token.
func (p *TokenProvider) ValidateAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.parse(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateRefresh verifies signature, expiry, issuer and audience of a refresh token.
func (p *TokenProvider) ValidateRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := p.parse(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (p *TokenProvider) registered(subject string, ttl time.Duration) (jwt.RegisteredClaims, error) {
	jti, err := generateJTI()
	if err != nil {
		return jwt.RegisteredClaims{}, err
	}
	now := p.nowF()
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}, nil
}

type signedClaims interface {
	jwt.Claims
	registered() *jwt.RegisteredClaims
}

func (c *AccessClaims) registered() *jwt.RegisteredClaims  { return &c.RegisteredClaims }
func (c *RefreshClaims) registered() *jwt.RegisteredClaims { return &c.RegisteredClaims }

func (p *TokenProvider) sign(claims signedClaims) (Issued, error) {
	if p.method == nil {
		return Issued{}, ErrInvalidKey
	}
	token, err := jwt.NewWithClaims(p.method, claims).SignedString(p.privateKey)
	if err != nil {
		return Issued{}, err
	}
	rc := claims.registered()
	return Issued{Token: token, JTI: rc.ID, ExpiresAt: rc.ExpiresAt.Time}, nil
}

func (p *TokenProvider) parse(token string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowF),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

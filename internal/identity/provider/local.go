package provider

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"site-scheduler/backend/internal/identity/domain"
	"site-scheduler/backend/internal/security"
	sessiondomain "site-scheduler/backend/internal/session/domain"
	userdomain "site-scheduler/backend/internal/user/domain"
)

const (
	eventBuffer = 16
	// refreshRetryDelay is how long to wait before retrying a refresh that failed
	// for a reason other than an invalid or reused token.
	refreshRetryDelay = 30 * time.Second
)

// UserRepo is the minimal user repository needed by LocalProvider.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// LoginRepo is the minimal login repository needed by LocalProvider.
type LoginRepo interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider domain.LoginProvider) (*domain.Login, error)
	Create(ctx context.Context, l *domain.Login) error
	UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error
}

// SessionRepo is the minimal session repository needed by LocalProvider.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	Revoke(ctx context.Context, id string) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
	UpdateRefreshToken(ctx context.Context, sessionID, jti, refreshTokenHash string) error
}

// Config holds LocalProvider tuning.
type Config struct {
	// RefreshMargin is how long before access token expiry the refresh runs.
	RefreshMargin time.Duration
}

// LocalProvider signs users in with email and password against Postgres and
// issues JWT credentials. All state changes are serialized and each one emits
// exactly one AuthEvent.
type LocalProvider struct {
	users    UserRepo
	logins   LoginRepo
	sessions SessionRepo
	tokens   *security.TokenProvider
	hasher   *security.Hasher
	creds    CredentialStore
	margin   time.Duration

	events chan domain.AuthEvent
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	current  *Credentials
	timer    *time.Timer
	timerGen uint64
	nowF     func() time.Time
	afterF   func(d time.Duration, f func()) *time.Timer
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider returns a LocalProvider. creds may be nil to keep credentials in memory only.
func NewLocalProvider(users UserRepo, logins LoginRepo, sessions SessionRepo, tokens *security.TokenProvider, hasher *security.Hasher, creds CredentialStore, cfg Config) *LocalProvider {
	if creds == nil {
		creds = &MemoryCredentialStore{}
	}
	return &LocalProvider{
		users:    users,
		logins:   logins,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
		creds:    creds,
		margin:   cfg.RefreshMargin,
		events:   make(chan domain.AuthEvent, eventBuffer),
		done:     make(chan struct{}),
		nowF:     func() time.Time { return time.Now().UTC() },
		afterF:   time.AfterFunc,
	}
}

// Events implements Provider.
func (p *LocalProvider) Events() <-chan domain.AuthEvent { return p.events }

// Start restores persisted credentials. A missing or unusable credential emits
// SIGNED_OUT; a valid one emits SIGNED_IN; an expired access token is refreshed
// immediately and emits TOKEN_REFRESHED. Backend errors are returned without
// emitting so the caller's wait guard decides when to stop waiting.
func (p *LocalProvider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, err := p.creds.LoadCredentials()
	if err != nil {
		log.Printf("identity: discarding unreadable credentials: %v", err)
		_ = p.creds.DeleteCredentials()
		stored = nil
	}
	if stored == nil || stored.RefreshToken == "" {
		p.current = nil
		p.emitLocked(domain.EventSignedOut, nil)
		return nil
	}
	sess, err := p.sessions.GetByID(ctx, stored.SessionID)
	if err != nil {
		return err
	}
	if !sess.Active(p.nowF()) {
		_ = p.creds.DeleteCredentials()
		p.current = nil
		p.emitLocked(domain.EventSignedOut, nil)
		return nil
	}
	p.current = stored
	if !stored.ExpiresAt.After(p.nowF().Add(p.margin)) {
		return p.refreshLocked(ctx)
	}
	p.scheduleLocked()
	p.emitLocked(domain.EventSignedIn, identityOf(stored))
	return nil
}

// SignIn verifies email and password, opens a session and emits SIGNED_IN.
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*domain.Identity, error) {
	email = userdomain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := p.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !user.Active() {
		return nil, ErrInvalidCredentials
	}
	login, err := p.logins.GetByUserAndProvider(ctx, user.ID, domain.LoginProviderLocal)
	if err != nil {
		return nil, err
	}
	if login == nil || login.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := p.hasher.Compare(login.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if p.hasher.NeedsRehash(login.PasswordHash) {
		p.rehash(ctx, login, password)
	}

	sessionID := uuid.New().String()
	refresh, err := p.tokens.IssueRefresh(sessionID, user.ID)
	if err != nil {
		return nil, err
	}
	access, err := p.tokens.IssueAccess(sessionID, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	now := p.nowF()
	sess := &sessiondomain.Session{
		ID:               sessionID,
		UserID:           user.ID,
		ExpiresAt:        refresh.ExpiresAt,
		LastSeenAt:       &now,
		RefreshJti:       refresh.JTI,
		RefreshTokenHash: security.HashRefreshToken(refresh.Token),
		CreatedAt:        now,
	}
	if err := p.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	c := &Credentials{
		UserID:       user.ID,
		Email:        user.Email,
		SessionID:    sessionID,
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		ExpiresAt:    access.ExpiresAt,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.creds.SaveCredentials(c); err != nil {
		log.Printf("identity: failed to persist credentials: %v", err)
	}
	p.current = c
	p.scheduleLocked()
	id := identityOf(c)
	p.emitLocked(domain.EventSignedIn, id)
	return id, nil
}

// Refresh rotates the refresh token and issues a new access token, emitting
// TOKEN_REFRESHED with the new identity. When the session is gone, revoked or
// the token was already rotated, it emits TOKEN_REFRESHED without an identity.
func (p *LocalProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshLocked(ctx)
}

func (p *LocalProvider) refreshLocked(ctx context.Context) error {
	c := p.current
	if c == nil {
		return ErrNotSignedIn
	}
	claims, err := p.tokens.ValidateRefresh(c.RefreshToken)
	if err != nil {
		p.dropLocked(domain.EventTokenRefreshed)
		return err
	}
	sess, err := p.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		p.retryLocked()
		return err
	}
	if !sess.Active(p.nowF()) {
		p.dropLocked(domain.EventTokenRefreshed)
		return ErrNotSignedIn
	}
	if sess.RefreshJti != claims.ID || !security.RefreshTokenHashEqual(c.RefreshToken, sess.RefreshTokenHash) {
		if err := p.sessions.Revoke(ctx, sess.ID); err != nil {
			log.Printf("identity: revoke after refresh reuse: %v", err)
		}
		p.dropLocked(domain.EventTokenRefreshed)
		return ErrRefreshTokenReuse
	}

	refresh, err := p.tokens.IssueRefresh(sess.ID, sess.UserID)
	if err != nil {
		p.retryLocked()
		return err
	}
	if err := p.sessions.UpdateRefreshToken(ctx, sess.ID, refresh.JTI, security.HashRefreshToken(refresh.Token)); err != nil {
		p.retryLocked()
		return err
	}
	_ = p.sessions.UpdateLastSeen(ctx, sess.ID, p.nowF())
	access, err := p.tokens.IssueAccess(sess.ID, sess.UserID, c.Email)
	if err != nil {
		p.retryLocked()
		return err
	}
	next := &Credentials{
		UserID:       sess.UserID,
		Email:        c.Email,
		SessionID:    sess.ID,
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		ExpiresAt:    access.ExpiresAt,
	}
	if err := p.creds.SaveCredentials(next); err != nil {
		log.Printf("identity: failed to persist refreshed credentials: %v", err)
	}
	p.current = next
	p.scheduleLocked()
	p.emitLocked(domain.EventTokenRefreshed, identityOf(next))
	return nil
}

// rehash upgrades a password hash to the configured cost. Failures keep the old hash.
func (p *LocalProvider) rehash(ctx context.Context, login *domain.Login, password string) {
	hash, err := p.hasher.Hash([]byte(password))
	if err != nil {
		log.Printf("identity: rehash password for login %s: %v", login.ID, err)
		return
	}
	if err := p.logins.UpdatePasswordHash(ctx, login.ID, hash); err != nil {
		log.Printf("identity: store rehashed password for login %s: %v", login.ID, err)
	}
}

// SignOut revokes the current session, deletes persisted credentials and emits
// SIGNED_OUT. It emits even when nobody is signed in so a pending sign-out
// always completes.
func (p *LocalProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var revokeErr error
	if p.current != nil {
		revokeErr = p.sessions.Revoke(ctx, p.current.SessionID)
		if revokeErr != nil {
			log.Printf("identity: revoke session %s: %v", p.current.SessionID, revokeErr)
		}
	}
	p.dropLocked(domain.EventSignedOut)
	return revokeErr
}

// CurrentSession implements Provider.
func (p *LocalProvider) CurrentSession(ctx context.Context) (*domain.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, nil
	}
	return identityOf(p.current), nil
}

// Close stops the refresh timer and unblocks any pending event delivery.
func (p *LocalProvider) Close() {
	p.once.Do(func() { close(p.done) })
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimerLocked()
}

func (p *LocalProvider) dropLocked(event domain.EventType) {
	if err := p.creds.DeleteCredentials(); err != nil {
		log.Printf("identity: failed to delete credentials: %v", err)
	}
	p.current = nil
	p.stopTimerLocked()
	p.emitLocked(event, nil)
}

// emitLocked runs under mu so events leave in the order state changed.
func (p *LocalProvider) emitLocked(event domain.EventType, id *domain.Identity) {
	select {
	case p.events <- domain.AuthEvent{Type: event, Identity: id}:
	case <-p.done:
	}
}

func (p *LocalProvider) scheduleLocked() {
	if p.current == nil {
		return
	}
	wait := p.current.ExpiresAt.Sub(p.nowF()) - p.margin
	if wait < 0 {
		wait = 0
	}
	p.armLocked(wait)
}

func (p *LocalProvider) retryLocked() {
	if p.current != nil {
		p.armLocked(refreshRetryDelay)
	}
}

func (p *LocalProvider) armLocked(wait time.Duration) {
	p.stopTimerLocked()
	gen := p.timerGen
	p.timer = p.afterF(wait, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if gen != p.timerGen {
			return
		}
		select {
		case <-p.done:
			return
		default:
		}
		if err := p.refreshLocked(context.Background()); err != nil && !isTerminalRefreshErr(err) {
			log.Printf("identity: background refresh failed: %v", err)
		}
	})
}

func (p *LocalProvider) stopTimerLocked() {
	p.timerGen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func isTerminalRefreshErr(err error) bool {
	return errors.Is(err, ErrRefreshTokenReuse) || errors.Is(err, ErrNotSignedIn) || errors.Is(err, security.ErrInvalidToken)
}

func identityOf(c *Credentials) *domain.Identity {
	if c == nil {
		return nil
	}
	return &domain.Identity{
		UserID:    c.UserID,
		Email:     strings.TrimSpace(c.Email),
		SessionID: c.SessionID,
		Credential: domain.Credential{
			AccessToken:  c.AccessToken,
			RefreshToken: c.RefreshToken,
			ExpiresAt:    c.ExpiresAt,
		},
	}
}

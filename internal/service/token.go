package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Robinemad1/EEETrading/internal/cache"
	"github.com/Robinemad1/EEETrading/internal/model"
	"github.com/Robinemad1/EEETrading/internal/qbo"
	"github.com/Robinemad1/EEETrading/internal/repository"
)

const (
	// DefaultTokenSkew treats a token as stale this long before it expires.
	DefaultTokenSkew = 300 * time.Second

	refreshFlightKey = "refresh"
	refreshLockKey   = "quickbooks:token-refresh"
	refreshLockTTL   = 30 * time.Second
	refreshTimeout   = 30 * time.Second
)

// Authorizer performs OAuth2 grants against the authorization server.
type Authorizer interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*qbo.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*qbo.Grant, error)
}

// TokenManager owns the credential lifecycle. It is the only writer of
// credential records. Refreshes are single-flight inside the process and,
// when a distributed locker is configured, across processes.
type TokenManager struct {
	repo   repository.CredentialRepository
	auth   Authorizer
	locker cache.Locker
	skew   time.Duration
	logger *slog.Logger
	group  singleflight.Group

	nowFunc func() time.Time
}

// NewTokenManager creates a token manager. locker may be nil.
func NewTokenManager(repo repository.CredentialRepository, auth Authorizer, locker cache.Locker, skew time.Duration, logger *slog.Logger) *TokenManager {
	if skew <= 0 {
		skew = DefaultTokenSkew
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenManager{
		repo:    repo,
		auth:    auth,
		locker:  locker,
		skew:    skew,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// CurrentCredential returns the authoritative credential record.
func (m *TokenManager) CurrentCredential(ctx context.Context) (*model.Credential, error) {
	cred, err := m.repo.LatestCredential(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	return cred, nil
}

// IsStale reports whether cred is expired or within the skew window of expiring.
func (m *TokenManager) IsStale(cred *model.Credential) bool {
	return cred.IsStale(m.nowFunc(), m.skew)
}

// ValidCredential returns the current credential, refreshing it first when stale.
func (m *TokenManager) ValidCredential(ctx context.Context) (*model.Credential, error) {
	cred, err := m.CurrentCredential(ctx)
	if err != nil {
		return nil, err
	}
	if !m.IsStale(cred) {
		return cred, nil
	}

	m.logger.Info("access token stale, refreshing",
		slog.Int64("credential_id", cred.ID),
		slog.Time("expires_at", cred.ExpiresAt()),
	)
	return m.refreshFrom(ctx, cred)
}

// Refresh exchanges the current refresh token for a new pair and appends
// the result. Concurrent callers share one exchange.
func (m *TokenManager) Refresh(ctx context.Context) (*model.Credential, error) {
	cred, err := m.CurrentCredential(ctx)
	if err != nil {
		return nil, err
	}
	return m.refreshFrom(ctx, cred)
}

// refreshFrom refreshes unless a credential newer than observed already
// exists, in which case that one is returned.
func (m *TokenManager) refreshFrom(ctx context.Context, observed *model.Credential) (*model.Credential, error) {
	ch := m.group.DoChan(refreshFlightKey, func() (any, error) {
		// The exchange outlives any single caller; a canceled request must
		// not abort a refresh other callers are waiting on.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.doRefresh(flightCtx, observed.ID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Credential), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *TokenManager) doRefresh(ctx context.Context, observedID int64) (*model.Credential, error) {
	if m.locker != nil {
		lock, err := m.locker.Lock(ctx, refreshLockKey, refreshLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquiring refresh lock: %w", err)
		}
		defer func() {
			if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("releasing refresh lock", slog.String("error", err.Error()))
			}
		}()
	}

	latest, err := m.CurrentCredential(ctx)
	if err != nil {
		return nil, err
	}
	if latest.ID != observedID {
		m.logger.Debug("credential already refreshed",
			slog.Int64("observed_id", observedID),
			slog.Int64("latest_id", latest.ID),
		)
		return latest, nil
	}

	grant, err := m.auth.Refresh(ctx, latest.RefreshToken)
	if err != nil {
		rerr := newRefreshError(err)
		m.logger.Error("token refresh rejected",
			slog.Int64("credential_id", latest.ID),
			slog.String("code", rerr.Code),
			slog.String("error", err.Error()),
		)
		return nil, rerr
	}

	next := &model.Credential{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		IssuedAt:     m.nowFunc().UTC(),
		ExpiresIn:    grant.ExpiresIn,
		RealmID:      latest.RealmID,
	}
	if err := m.repo.AppendCredential(ctx, next); err != nil {
		return nil, fmt.Errorf("storing refreshed credential: %w", err)
	}

	m.logger.Info("access token refreshed",
		slog.Int64("credential_id", next.ID),
		slog.Int64("expires_in", next.ExpiresIn),
	)
	return next, nil
}

// AuthorizeURL returns the consent URL for a CSRF state value.
func (m *TokenManager) AuthorizeURL(state string) string {
	return m.auth.AuthCodeURL(state)
}

// Authorize completes the initial handshake and appends the first
// credential record for realmID.
func (m *TokenManager) Authorize(ctx context.Context, code, realmID string) (*model.Credential, error) {
	if code == "" || realmID == "" {
		return nil, fmt.Errorf("%w: authorization code and realm id are required", ErrInvalidInput)
	}

	grant, err := m.auth.Exchange(ctx, code)
	if err != nil {
		return nil, newRefreshError(err)
	}

	cred := &model.Credential{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		IssuedAt:     m.nowFunc().UTC(),
		ExpiresIn:    grant.ExpiresIn,
		RealmID:      realmID,
	}
	if err := m.repo.AppendCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("storing credential: %w", err)
	}

	m.logger.Info("accounting system authorized",
		slog.String("realm_id", realmID),
		slog.Int64("credential_id", cred.ID),
	)
	return cred, nil
}

// Status summarizes the current credential.
func (m *TokenManager) Status(ctx context.Context) (*model.TokenStatus, error) {
	cred, err := m.CurrentCredential(ctx)
	if errors.Is(err, ErrNoCredential) {
		return &model.TokenStatus{Message: "No QuickBooks token found"}, nil
	}
	if err != nil {
		return nil, err
	}

	remaining := cred.ExpiresAt().Sub(m.nowFunc())
	status := &model.TokenStatus{
		Connected: remaining > 0,
		RealmID:   cred.RealmID,
		IssuedAt:  cred.IssuedAt,
		Message:   "QuickBooks token expired",
	}
	if remaining > 0 {
		status.ExpiresInSeconds = int64(remaining / time.Second)
		status.Message = "Connected to QuickBooks"
	}
	return status, nil
}

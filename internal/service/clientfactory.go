package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Robinemad1/EEETrading/internal/model"
	"github.com/Robinemad1/EEETrading/internal/qbo"
)

// RemoteItems is the part of the accounting API this service uses: item
// pushes for the reconciler and catalogue reads for the dashboard.
type RemoteItems interface {
	CreateItem(ctx context.Context, item *qbo.Item) (*qbo.Item, error)
	GetItem(ctx context.Context, id string) (*qbo.Item, error)
	UpdateItem(ctx context.Context, item *qbo.Item) (*qbo.Item, error)
	QueryItems(ctx context.Context) ([]qbo.Item, error)
	QueryAccounts(ctx context.Context) ([]qbo.Account, error)
}

// ClientBuilder binds a remote client to a credential.
type ClientBuilder func(cred *model.Credential) RemoteItems

// NewQBOClientBuilder returns a ClientBuilder producing qbo clients.
func NewQBOClientBuilder(baseURL, minorVersion string, httpClient *http.Client, logger *slog.Logger) ClientBuilder {
	return func(cred *model.Credential) RemoteItems {
		return qbo.NewClient(qbo.ClientConfig{
			BaseURL:      baseURL,
			RealmID:      cred.RealmID,
			MinorVersion: minorVersion,
			HTTPClient:   httpClient,
		}, qbo.StaticToken(cred.AccessToken), logger)
	}
}

// ClientFactory hands out remote sessions bound to a valid credential.
type ClientFactory struct {
	tokens *TokenManager
	build  ClientBuilder
	logger *slog.Logger
}

// NewClientFactory creates a client factory.
func NewClientFactory(tokens *TokenManager, build ClientBuilder, logger *slog.Logger) *ClientFactory {
	return &ClientFactory{tokens: tokens, build: build, logger: logger}
}

// Client returns a session bound to the current credential, refreshing a
// stale credential before returning.
func (f *ClientFactory) Client(ctx context.Context) (*RemoteSession, error) {
	cred, err := f.tokens.ValidCredential(ctx)
	if err != nil {
		return nil, err
	}

	return &RemoteSession{
		factory: f,
		cred:    cred,
		client:  f.build(cred),
	}, nil
}

// RemoteSession wraps a remote client. A call rejected for authentication
// triggers one refresh and exactly one retry; a second rejection is
// returned as ErrRemoteAuth.
type RemoteSession struct {
	factory *ClientFactory

	mu     sync.Mutex
	cred   *model.Credential
	client RemoteItems
}

// CreateItem creates a remote item.
func (s *RemoteSession) CreateItem(ctx context.Context, item *qbo.Item) (*qbo.Item, error) {
	var out *qbo.Item
	err := s.call(ctx, func(c RemoteItems) (err error) {
		out, err = c.CreateItem(ctx, item)
		return err
	})
	return out, err
}

// GetItem reads a remote item.
func (s *RemoteSession) GetItem(ctx context.Context, id string) (*qbo.Item, error) {
	var out *qbo.Item
	err := s.call(ctx, func(c RemoteItems) (err error) {
		out, err = c.GetItem(ctx, id)
		return err
	})
	return out, err
}

// UpdateItem updates a remote item.
func (s *RemoteSession) UpdateItem(ctx context.Context, item *qbo.Item) (*qbo.Item, error) {
	var out *qbo.Item
	err := s.call(ctx, func(c RemoteItems) (err error) {
		out, err = c.UpdateItem(ctx, item)
		return err
	})
	return out, err
}

// QueryItems lists active remote inventory items.
func (s *RemoteSession) QueryItems(ctx context.Context) ([]qbo.Item, error) {
	var out []qbo.Item
	err := s.call(ctx, func(c RemoteItems) (err error) {
		out, err = c.QueryItems(ctx)
		return err
	})
	return out, err
}

// QueryAccounts lists the ledger accounts items can reference.
func (s *RemoteSession) QueryAccounts(ctx context.Context) ([]qbo.Account, error) {
	var out []qbo.Account
	err := s.call(ctx, func(c RemoteItems) (err error) {
		out, err = c.QueryAccounts(ctx)
		return err
	})
	return out, err
}

// RealmID returns the company the session is bound to.
func (s *RemoteSession) RealmID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred.RealmID
}

func (s *RemoteSession) call(ctx context.Context, fn func(RemoteItems) error) error {
	s.mu.Lock()
	cred, client := s.cred, s.client
	s.mu.Unlock()

	err := fn(client)
	if !qbo.IsAuthError(err) {
		return err
	}

	s.factory.logger.Warn("remote call rejected for authentication, refreshing",
		slog.Int64("credential_id", cred.ID),
	)

	fresh, rerr := s.factory.tokens.refreshFrom(ctx, cred)
	if rerr != nil {
		return rerr
	}

	s.mu.Lock()
	if s.cred.ID == cred.ID {
		s.cred = fresh
		s.client = s.factory.build(fresh)
	}
	client = s.client
	s.mu.Unlock()

	err = fn(client)
	if qbo.IsAuthError(err) {
		return fmt.Errorf("%w: %w", ErrRemoteAuth, err)
	}
	return err
}

var _ RemoteItems = (*RemoteSession)(nil)

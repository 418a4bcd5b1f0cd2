package service

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/Robinemad1/EEETrading/internal/qbo"
)

// Sentinel errors of the synchronization core. Use errors.Is to check.
var (
	// ErrNoCredential means the accounting system was never authorized.
	ErrNoCredential = errors.New("no accounting credential; authorization required")

	// ErrRefreshFailed means the authorization server rejected a refresh.
	// The previous credential is left in place.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrRemoteAuth means a remote call was rejected for authentication
	// even after one refresh and retry.
	ErrRemoteAuth = errors.New("remote authentication failed")

	// ErrRemoteItem means the accounting system rejected an item push.
	ErrRemoteItem = errors.New("remote item rejected")

	// ErrRemoteNotFound means the accounting system has no such record.
	ErrRemoteNotFound = errors.New("remote record not found")

	// ErrRemoteUnavailable means a read from the accounting system failed
	// for a reason other than authentication.
	ErrRemoteUnavailable = errors.New("accounting system request failed")

	// ErrLocalTransaction means a local database write failed and was rolled back.
	ErrLocalTransaction = errors.New("local transaction failed")

	// ErrItemNotFound means the local item does not exist.
	ErrItemNotFound = errors.New("inventory item not found")

	// ErrRemoteIDAssigned means an item already has a different remote id.
	ErrRemoteIDAssigned = errors.New("remote id already assigned")

	// ErrInvalidInput means a caller-supplied value was rejected.
	ErrInvalidInput = errors.New("invalid input")
)

// RefreshError carries the authorization server's error payload.
type RefreshError struct {
	Code        string // OAuth2 error code, e.g. invalid_grant
	Description string
	StatusCode  int
	Body        string
	Err         error
}

func (e *RefreshError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("%s: %s: %s", ErrRefreshFailed, e.Code, e.Description)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", ErrRefreshFailed, e.Err)
	default:
		return ErrRefreshFailed.Error()
	}
}

// Is makes errors.Is(err, ErrRefreshFailed) true.
func (e *RefreshError) Is(target error) bool {
	return target == ErrRefreshFailed
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// newRefreshError extracts the OAuth2 error payload when there is one.
func newRefreshError(err error) *RefreshError {
	re := &RefreshError{Err: err}

	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		re.Code = retrieve.ErrorCode
		re.Description = retrieve.ErrorDescription
		re.Body = string(retrieve.Body)
		if retrieve.Response != nil {
			re.StatusCode = retrieve.Response.StatusCode
		}
	}

	return re
}

// ItemError is a per-item remote failure.
type ItemError struct {
	ItemID int64
	Op     string // create, fetch or update
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: remote %s: %v", e.ItemID, e.Op, e.Err)
}

// Is makes errors.Is(err, ErrRemoteItem) true for business rejections.
func (e *ItemError) Is(target error) bool {
	if target != ErrRemoteItem {
		return false
	}
	return !errors.Is(e.Err, ErrRemoteAuth) && !errors.Is(e.Err, ErrRefreshFailed) && !errors.Is(e.Err, ErrNoCredential)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Fault returns the remote fault behind the failure, if any.
func (e *ItemError) Fault() *qbo.Fault {
	var apiErr *qbo.Error
	if errors.As(e.Err, &apiErr) {
		return apiErr.Fault
	}
	return nil
}

// LocalTxError wraps a failed local write.
type LocalTxError struct {
	ItemID int64
	Err    error
}

func (e *LocalTxError) Error() string {
	return fmt.Sprintf("%s for item %d: %v", ErrLocalTransaction, e.ItemID, e.Err)
}

// Is makes errors.Is(err, ErrLocalTransaction) true.
func (e *LocalTxError) Is(target error) bool {
	return target == ErrLocalTransaction
}

func (e *LocalTxError) Unwrap() error {
	return e.Err
}

package account

import "errors"

var (
	// ErrNotAuthenticated means no usable account or token exists for the
	// request. Callers should prompt a re-login rather than retry.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotFound means the referenced email is not a linked account.
	ErrNotFound = errors.New("account not found")

	// ErrRefreshFailed covers every failure of the token endpoint during a
	// refresh: network error, non-2xx status, malformed body. The manager
	// treats all of them as "this session is no longer usable".
	ErrRefreshFailed = errors.New("token refresh failed")
)

package sunsynk

import "fmt"

// KeyFetchError indicates the public key could not be retrieved or parsed
type KeyFetchError struct {
	Err error
}

func (e *KeyFetchError) Error() string {
	return fmt.Sprintf("public key fetch failed: %v", e.Err)
}

func (e *KeyFetchError) Unwrap() error {
	return e.Err
}

// EncryptionError indicates the password could not be encrypted under the
// server-supplied public key
type EncryptionError struct {
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("password encryption failed: %v", e.Err)
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}

// AuthError indicates the token exchange did not yield a usable bearer token.
// Reason carries the server-reported message verbatim when one was available.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("authentication failed: %s", e.Reason)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// APIError surfaces a non-success envelope from the Sunsynk API
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sunsynk api error %d: %s", e.Code, e.Msg)
}

package client

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"syscall"

	"github.com/warble-im/warble/internal/xmpp"
)

// ConnectionState is the public state of the single server connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnectionError is the closed set of failures surfaced to observers. No
// raw protocol error crosses the session-thread boundary.
type ConnectionError int

const (
	ErrNone ConnectionError = iota
	ErrAuthenticationFailed
	ErrNotConnected
	ErrTLSFailed
	ErrTLSUnavailable
	ErrDNSError
	ErrConnectionRefused
	ErrUnsupportedAuthMechanism
	ErrKeepAliveTimeout
	ErrNoNetworkPermission
	ErrRegistrationUnsupported
)

// String returns the error name.
func (e ConnectionError) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrAuthenticationFailed:
		return "authentication failed"
	case ErrNotConnected:
		return "not connected"
	case ErrTLSFailed:
		return "TLS failed"
	case ErrTLSUnavailable:
		return "TLS unavailable"
	case ErrDNSError:
		return "DNS error"
	case ErrConnectionRefused:
		return "connection refused"
	case ErrUnsupportedAuthMechanism:
		return "unsupported authentication mechanism"
	case ErrKeepAliveTimeout:
		return "keep-alive timeout"
	case ErrNoNetworkPermission:
		return "no network permission"
	case ErrRegistrationUnsupported:
		return "registration unsupported"
	default:
		return "unknown"
	}
}

// mapConnectionError translates a low-level failure into the closed error
// set. Unrecognized or absent errors map to ErrNotConnected.
func mapConnectionError(err error) ConnectionError {
	if err == nil {
		return ErrNotConnected
	}

	switch {
	case errors.Is(err, xmpp.ErrAuthenticationFailed):
		return ErrAuthenticationFailed
	case errors.Is(err, xmpp.ErrNoSupportedAuth):
		return ErrUnsupportedAuthMechanism
	case errors.Is(err, xmpp.ErrTLSUnavailable):
		return ErrTLSUnavailable
	case errors.Is(err, xmpp.ErrKeepAliveTimeout):
		return ErrKeepAliveTimeout
	case errors.Is(err, xmpp.ErrRegistrationUnsupported):
		return ErrRegistrationUnsupported
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrDNSError
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrConnectionRefused
	case errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EACCES):
		return ErrNoNetworkPermission
	}

	if isTLSError(err) {
		return ErrTLSFailed
	}

	return ErrNotConnected
}

func isTLSError(err error) bool {
	var (
		recordErr    tls.RecordHeaderError
		verifyErr    *tls.CertificateVerificationError
		hostnameErr  x509.HostnameError
		authorityErr x509.UnknownAuthorityError
		invalidErr   x509.CertificateInvalidError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &invalidErr)
}

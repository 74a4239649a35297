package prober

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrTargetNotAllowed matches every ValidationError via errors.Is.
var ErrTargetNotAllowed = errors.New("target not in allow-list")

// ValidationError rejects a target that is not allow-listed. No network I/O happens.
type ValidationError struct {
	Target string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("target '%s' not in allow-list", e.Target)
}

// Is lets callers test for ErrTargetNotAllowed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrTargetNotAllowed
}

// FailureKind names why a probe produced no response. It is diagnostic only
// and never part of the result handed to callers.
type FailureKind string

const (
	FailureNone     FailureKind = ""
	FailureTimeout  FailureKind = "timeout"
	FailureDNS      FailureKind = "dns"
	FailureRefused  FailureKind = "refused"
	FailureTLS      FailureKind = "tls"
	FailureCanceled FailureKind = "canceled"
	FailureOther    FailureKind = "other"
)

// ClassifyFailure maps a transport error to a FailureKind.
func ClassifyFailure(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureDNS
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailureRefused
	}

	var (
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	switch {
	case errors.Is(err, http.ErrSchemeMismatch),
		errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidCert):
		return FailureTLS
	}
	return FailureOther
}

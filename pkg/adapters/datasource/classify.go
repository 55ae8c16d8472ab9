package datasource

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// ClassifyNetError maps transport-level faults shared by all dialects onto
// the TestErrorCode enum. Returns TestErrUnknown when the error is not a
// recognizable network fault so dialect classifiers can apply their own
// driver-specific rules first.
func ClassifyNetError(err error) models.TestErrorCode {
	if err == nil {
		return models.TestErrNone
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.TestErrTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return models.TestErrTimeout
		}
		return models.TestErrHostNotFound
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return models.TestErrConnectionRefused
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) {
		return models.TestErrTLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.TestErrTimeout
	}

	// The drivers wrap some faults beyond errors.As reach.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return models.TestErrConnectionRefused
	case strings.Contains(msg, "no such host"):
		return models.TestErrHostNotFound
	case strings.Contains(msg, "tls") || strings.Contains(msg, "certificate"):
		return models.TestErrTLS
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return models.TestErrTimeout
	}
	return models.TestErrUnknown
}

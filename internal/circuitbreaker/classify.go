package circuitbreaker

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"syscall"
)

// ClassifyError weighs a signal failure:
//   - nil or caller cancellation: 0 (not the origin's fault)
//   - timeout: 1.5
//   - connection refused or reset: 1.0
//   - TLS handshake failure: 0.5 (usually a certificate problem)
//   - anything else: 1.0
func ClassifyError(err error) float64 {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return 1.5
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 1.5
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return 1.0
	}
	var certErr *tls.CertificateVerificationError
	var alert tls.AlertError
	if errors.As(err, &certErr) || errors.As(err, &alert) {
		return 0.5
	}
	return 1.0
}

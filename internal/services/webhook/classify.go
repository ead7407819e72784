package webhook

import (
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/company-assistant-go/internal/models"
)

// classifyTransportError maps an error from the HTTP transport to an
// error kind and whether another attempt may succeed.
//
// Retried: DNS lookup failures, connection refused, connection reset,
// host unreachable, network unreachable. Transport-level timeouts are
// reported as timeouts and are not retried. Anything else is a
// non-retried network failure.
func classifyTransportError(err error) (models.ErrorKind, bool) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return models.ErrorTimeout, false
		}
		return models.ErrorNetwork, true
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return models.ErrorNetwork, true
	case errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, os.ErrDeadlineExceeded):
		return models.ErrorTimeout, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrorTimeout, false
	}

	return models.ErrorNetwork, false
}

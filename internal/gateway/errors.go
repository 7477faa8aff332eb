package gateway

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/justestif/syncmaster/internal/db"
	"github.com/justestif/syncmaster/internal/localstore"
	"github.com/justestif/syncmaster/internal/supabase"
)

// ErrNotFound is returned when the requested row does not exist in whichever
// backend answered.
var ErrNotFound = errors.New("not found")

var retryableErrnos = []syscall.Errno{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.ETIMEDOUT,
	syscall.ENETUNREACH,
	syscall.ENETDOWN,
	syscall.EHOSTUNREACH,
	syscall.EPIPE,
}

var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"host is unreachable",
	"i/o timeout",
	"broken pipe",
	"server misbehaving",
}

// IsNetwork reports whether err means the remote could not be reached. Only
// these errors route a call to the local fallback; auth, validation and
// storage configuration errors are returned to the caller as they are.
func IsNetwork(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, supabase.ErrNetwork) || supabase.KindOf(err) == supabase.KindNetwork {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		for _, e := range retryableErrnos {
			if errno == e {
				return true
			}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range networkPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is a missing-row error from any backend.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, supabase.ErrNotFound) ||
		errors.Is(err, db.ErrNotFound) ||
		errors.Is(err, localstore.ErrNotFound)
}

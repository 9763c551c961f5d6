package viewer

import (
	"fmt"
	"net"

	vierr "github.com/hochfrequenz/task-viewer/internal/errors"
)

// PortChecker reports whether a port can be bound
type PortChecker func(port int) bool

// PortFree tries to bind port on the loopback interface
func PortFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// FindFreePort returns the first port in [base, base+attempts) that free
// accepts, or ResourceExhausted.
func FindFreePort(base, attempts int, free PortChecker) (int, error) {
	for port := base; port < base+attempts; port++ {
		if free(port) {
			return port, nil
		}
	}
	return 0, vierr.ResourceExhausted("no free port in %d-%d", base, base+attempts-1)
}

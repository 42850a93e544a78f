package tcp

import (
	"net"

	"golang.org/x/net/netutil"
)

// netutilLimitListener caps simultaneously accepted connections at n,
// blocking further Accept calls until one closes. This is the one
// place in the module that exercises golang.org/x/net: a global
// connection-count ceiling independent of the per-IP handshake gate.
func netutilLimitListener(ln net.Listener, n int) net.Listener {
	return netutil.LimitListener(ln, n)
}

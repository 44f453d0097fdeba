package peer

import (
	"net"
	"strings"
)

// cgnat is the shared address space used by carrier-grade NAT and by overlay
// networks such as Tailscale and Cloudflare WARP.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// ShouldForceRelay reports whether this host looks like it sits behind a VPN
// or CGNAT, where direct candidates rarely connect and TURN should be used.
func ShouldForceRelay() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			addrs = nil
		}
		if restrictedInterface(iface.Name, addrs) {
			return true
		}
	}
	return false
}

func restrictedInterface(name string, addrs []net.Addr) bool {
	name = strings.ToLower(name)
	for _, hint := range tunnelNames {
		if strings.Contains(name, hint) {
			return true
		}
	}
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && cgnat.Contains(ip) {
			return true
		}
	}
	return false
}

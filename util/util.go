package util

import (
	"fmt"
	"net"
	"net/netip"
	"os"
)

// GetIP returns the address this host uses for outbound traffic. No packet
// is sent.
func GetIP() (netip.Addr, error) {
	if conn, err := net.Dial("udp", "8.8.8.8:80"); err != nil {
		return netip.Addr{}, fmt.Errorf("error getting outbound ip: %v", err)
	} else {
		defer conn.Close()
		if addrPort, err := netip.ParseAddrPort(conn.LocalAddr().String()); err != nil {
			return netip.Addr{}, fmt.Errorf("error parsing outbound ip: %v", err)
		} else {
			return addrPort.Addr().Unmap(), nil
		}
	}
}

// Hostname falls back to fallback when the kernel has no name for us.
func Hostname(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return fallback
}

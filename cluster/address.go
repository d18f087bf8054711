package cluster

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

var generationEpoch = time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)

// Address identifies one incarnation of a silo: its endpoint plus the
// generation it was started with.
type Address struct {
	IP         netip.Addr
	Port       int
	Generation int32
}

func NewAddress(ip netip.Addr, port int, generation int32) Address {
	return Address{IP: ip, Port: port, Generation: generation}
}

// NewGeneration returns a generation that differs from any earlier start of a
// silo on the same endpoint.
func NewGeneration() int32 {
	return int32(time.Since(generationEpoch) / time.Second)
}

// ParseAddress is the inverse of Address.String.
func ParseAddress(s string) (Address, error) {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return Address{}, fmt.Errorf("invalid silo address %q: missing generation", s)
	}

	endpoint, err := netip.ParseAddrPort(s[:at])
	if err != nil {
		return Address{}, fmt.Errorf("invalid silo address %q: %v", s, err)
	}

	generation, err := strconv.ParseInt(s[at+1:], 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("invalid silo address %q: %v", s, err)
	}

	return Address{
		IP:         endpoint.Addr(),
		Port:       int(endpoint.Port()),
		Generation: int32(generation),
	}, nil
}

func (a Address) Endpoint() string {
	return netip.AddrPortFrom(a.IP, uint16(a.Port)).String()
}

func (a Address) String() string {
	return fmt.Sprintf("%s@%d", a.Endpoint(), a.Generation)
}

func (a Address) GatewayURI() string {
	return fmt.Sprintf("gwy.tcp://%s/%d", a.Endpoint(), a.Generation)
}

func (a Address) IsZero() bool {
	return !a.IP.IsValid() && a.Port == 0 && a.Generation == 0
}

// SameEndpoint reports whether b runs on the same ip and port, whatever its
// generation.
func (a Address) SameEndpoint(b Address) bool {
	return a.IP == b.IP && a.Port == b.Port
}

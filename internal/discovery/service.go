package discovery

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// TXTDeviceID is the TXT key a BasicR3 advertises its device id under.
const TXTDeviceID = "id"

// Service is one resolved advertisement of the device service type.
type Service struct {
	// Name is the mDNS instance name, e.g. "eWeLink_100123abc".
	Name string

	// Host is the advertised host name without the trailing dot.
	Host string

	// Addresses holds IPv4 addresses first, then IPv6.
	Addresses []string

	Port int

	// TXT holds the TXT record with lower-cased keys.
	TXT map[string]string

	SeenAt time.Time
}

// DeviceID returns the device-reported id from the TXT record.
func (s Service) DeviceID() string {
	return s.TXT[TXTDeviceID]
}

// Address returns the address to reach the device on: the first resolved
// address, or the host name when none resolved.
func (s Service) Address() string {
	if len(s.Addresses) > 0 {
		return s.Addresses[0]
	}
	return s.Host
}

// Endpoint returns Address and Port joined as host:port.
func (s Service) Endpoint() string {
	return net.JoinHostPort(s.Address(), strconv.Itoa(s.Port))
}

// String is used in log lines.
func (s Service) String() string {
	return fmt.Sprintf("%s (id %s) at %s", s.Name, s.DeviceID(), s.Endpoint())
}

// sameAdvertisement reports whether two sightings carry identical data,
// ignoring when they were seen.
func sameAdvertisement(a, b Service) bool {
	if a.Name != b.Name || a.Host != b.Host || a.Port != b.Port {
		return false
	}
	if !slices.Equal(a.Addresses, b.Addresses) {
		return false
	}
	if len(a.TXT) != len(b.TXT) {
		return false
	}
	for k, v := range a.TXT {
		if bv, ok := b.TXT[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// serviceFromEntry converts a zeroconf browse result.
func serviceFromEntry(e *zeroconf.ServiceEntry, now time.Time) Service {
	addrs := make([]string, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	for _, ip := range e.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return Service{
		Name:      e.Instance,
		Host:      strings.TrimSuffix(e.HostName, "."),
		Addresses: addrs,
		Port:      e.Port,
		TXT:       parseTXT(e.Text),
		SeenAt:    now,
	}
}

// parseTXT splits "key=value" strings. Keys are case-insensitive
// (RFC 6763 section 6.4) and a key without "=" maps to "".
// The first occurrence of a key wins.
func parseTXT(records []string) map[string]string {
	txt := make(map[string]string, len(records))
	for _, rec := range records {
		key, value, _ := strings.Cut(rec, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, dup := txt[key]; dup {
			continue
		}
		txt[key] = value
	}
	return txt
}

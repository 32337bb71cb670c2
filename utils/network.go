package utils

import (
	"net"
	"strings"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
)

var privateIPBlocks []*net.IPNet

// TrustProxyHeaders makes ClientIP honour forwarding headers. Enable it when
// the process sits behind the platform router.
var TrustProxyHeaders atomic.Bool

// single-address headers checked after X-Forwarded-For, in order
var clientIPHeaders = []string{"X-Client-IP", "X-Real-IP"}

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"127.0.0.0/8",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		if _, block, err := net.ParseCIDR(cidr); err == nil {
			privateIPBlocks = append(privateIPBlocks, block)
		}
	}
}

// ClientIP returns the best-effort client address. With proxy trust enabled
// the first public X-Forwarded-For hop wins, falling back to the first
// private one and then to the single-address headers.
func ClientIP(c *fiber.Ctx) string {
	if !TrustProxyHeaders.Load() {
		return c.IP()
	}
	if ip := forwardedFor(c.Get(fiber.HeaderXForwardedFor)); ip != "" {
		return ip
	}
	for _, h := range clientIPHeaders {
		if v := strings.TrimSpace(c.Get(h)); net.ParseIP(v) != nil {
			return v
		}
	}
	return c.IP()
}

func forwardedFor(header string) string {
	var fallback string
	for _, part := range strings.Split(header, ",") {
		ip := strings.TrimSpace(part)
		parsed := net.ParseIP(ip)
		if parsed == nil {
			continue
		}
		if IsPublicIP(parsed) {
			return ip
		}
		if fallback == "" {
			fallback = ip
		}
	}
	return fallback
}

// IsPublicIP returns true if the IP is a public IP address
func IsPublicIP(ip net.IP) bool {
	if ip == nil || ip.IsLoopback() || ip.IsUnspecified() {
		return false
	}
	for _, block := range privateIPBlocks {
		if block.Contains(ip) {
			return false
		}
	}
	return true
}

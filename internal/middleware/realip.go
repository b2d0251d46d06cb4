package middleware

import (
	"fmt"
	"net"
	"strings"

	"github.com/labstack/echo/v4"
)

// IPExtractor decides where c.RealIP comes from. Without trustProxy the TCP
// peer address is used and forwarding headers are ignored. With trustProxy
// X-Forwarded-For is read across the given proxy CIDRs plus loopback, or
// across echo's default trusted ranges when none are given.
func IPExtractor(trustProxy bool, proxies []string) (echo.IPExtractor, error) {
	if !trustProxy {
		return echo.ExtractIPDirect(), nil
	}
	if len(proxies) == 0 {
		return echo.ExtractIPFromXFFHeader(), nil
	}

	opts := []echo.TrustOption{
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", p, err)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}

package security

import (
	"context"
	"net"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func ParseCIDRAllowlist(cidrs []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		// Bare addresses are accepted as single-host ranges.
		if !strings.Contains(cidr, "/") {
			if ip := net.ParseIP(cidr); ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
				continue
			}
		}
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// addrAllowed reports whether the host part of addr falls in allow. An empty
// list allows everything.
func addrAllowed(allow []*net.IPNet, addr string) bool {
	if len(allow) == 0 {
		return true
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, n := range allow {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func IPAllowlist(allow []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !addrAllowed(allow, r.RemoteAddr) {
				WriteJSONError(w, r, http.StatusForbidden, "forbidden", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UnaryIPAllowlist rejects gRPC peers outside allow.
func UnaryIPAllowlist(allow []*net.IPNet) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if len(allow) > 0 {
			p, ok := peer.FromContext(ctx)
			if !ok || p.Addr == nil || !addrAllowed(allow, p.Addr.String()) {
				return nil, status.Error(codes.PermissionDenied, "forbidden")
			}
		}
		return handler(ctx, req)
	}
}

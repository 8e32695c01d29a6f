package runner

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

var ErrPublicIPLookup = fmt.Errorf("failed to resolve public IP address")

const publicAddrProvider = "https://api.ipify.org"

// publicAddr returns the caller's public IP address as seen from the
// internet, used to narrow SSH ingress to a single host.
func publicAddr(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicAddrProvider, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublicIPLookup, err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublicIPLookup, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: received HTTP status code %d", ErrPublicIPLookup, res.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, 64))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublicIPLookup, err)
	}
	return strings.TrimSpace(string(data)), nil
}

var ErrAddressInvalid = fmt.Errorf("failed to parse IP address")

// singleAddrCIDR returns the CIDR matching exactly 'addr'.
func singleAddrCIDR(addr string) (string, error) {
	ip := net.ParseIP(addr)
	switch {
	case ip == nil:
		return "", fmt.Errorf("%w: %q", ErrAddressInvalid, addr)
	case ip.To4() != nil:
		return ip.To4().String() + "/32", nil
	default:
		return ip.String() + "/128", nil
	}
}

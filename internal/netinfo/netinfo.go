package netinfo

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackpal/gateway"
	log "github.com/sirupsen/logrus"
)

// Unknown marks an address that could not be determined. Records carry it
// instead of an error; absence of a real address is itself the signal.
const Unknown = "unknown"

const (
	lookupTimeout = 3 * time.Second

	// probeDialAddr is only used for a local routing decision; no packets
	// are actually sent to it.
	probeDialAddr = "8.8.8.8:53"
)

// Resolver answers the best-effort address questions the engine asks each
// cycle: local egress IP, public IP, and destination resolution. Every
// method degrades to a sentinel instead of failing.
type Resolver struct {
	httpClient  *http.Client
	publicIPURL string
	discover    func() (net.IP, error)
	lookupHost  func(ctx context.Context, host string) ([]string, error)
	logger      *log.Logger
}

// Dependencies allow test overrides for HTTP, interface discovery, and DNS.
type Dependencies struct {
	HTTPClient        *http.Client
	DiscoverInterface func() (net.IP, error)
	LookupHost        func(ctx context.Context, host string) ([]string, error)
	Logger            *log.Logger
}

// NewResolver builds a Resolver. publicIPURL empty disables the public
// address lookup entirely.
func NewResolver(publicIPURL string, deps Dependencies) *Resolver {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: lookupTimeout}
	}
	discover := deps.DiscoverInterface
	if discover == nil {
		discover = gateway.DiscoverInterface
	}
	lookupHost := deps.LookupHost
	if lookupHost == nil {
		lookupHost = net.DefaultResolver.LookupHost
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Resolver{
		httpClient:  httpClient,
		publicIPURL: publicIPURL,
		discover:    discover,
		lookupHost:  lookupHost,
		logger:      logger,
	}
}

// SourceIP returns the local egress address: the interface facing the
// default gateway when discoverable, otherwise whatever the kernel would
// route an outbound datagram through.
func (r *Resolver) SourceIP() string {
	if ip, err := r.discover(); err == nil && ip != nil {
		return ip.String()
	}

	conn, err := net.Dial("udp", probeDialAddr)
	if err != nil {
		return Unknown
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return Unknown
}

// PublicIP asks the configured echo service for the external address.
// Resolved once per cycle and shared across all targets of that cycle.
func (r *Resolver) PublicIP(ctx context.Context) string {
	if r.publicIPURL == "" {
		return Unknown
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.publicIPURL, nil)
	if err != nil {
		return Unknown
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.WithError(err).Debug("public address lookup failed")
		return Unknown
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.WithField("status", resp.Status).Debug("public address lookup rejected")
		return Unknown
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return Unknown
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return Unknown
	}
	return ip
}

// ResolveHost returns the first resolved address for host, or host itself
// when resolution fails so records always carry something useful.
func (r *Resolver) ResolveHost(ctx context.Context, host string) string {
	if net.ParseIP(host) != nil {
		return host
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	addrs, err := r.lookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return host
	}
	return addrs[0]
}

package telegram

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/gotd/td/telegram/dcs"
	"golang.org/x/net/proxy"

	"github.com/edgard/tgarchive/internal/config"
)

// proxyResolver returns a DC resolver that dials through the configured
// SOCKS5 proxy, or nil when no proxy is enabled.
func proxyResolver(cfg config.ProxyConfig) (dcs.Resolver, error) {
	if !cfg.Enable {
		return nil, nil
	}
	if cfg.Protocol != "" && cfg.Protocol != "socks5" {
		return nil, fmt.Errorf("unsupported proxy protocol %q", cfg.Protocol)
	}

	var auth *proxy.Auth
	if cfg.Username != "" {
		auth = &proxy.Auth{User: cfg.Username, Password: cfg.Password}
	}
	addr := net.JoinHostPort(cfg.Addr, strconv.Itoa(cfg.Port))
	dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create socks5 dialer for %s: %w", addr, err)
	}

	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, address)
		}
		return dialer.Dial(network, address)
	}
	return dcs.Plain(dcs.PlainOptions{Dial: dial}), nil
}

package util

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// SetProxy configures the provided HTTP client with the given proxy URL.
// It supports SOCKS5, HTTP, and HTTPS proxies. An empty or unparsable URL leaves
// the client untouched.
func SetProxy(proxyURL string, httpClient *http.Client) *http.Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return httpClient
	}
	var transport *http.Transport
	parsed, errParse := url.Parse(proxyURL)
	if errParse != nil {
		log.Errorf("parse proxy URL failed: %v", errParse)
		return httpClient
	}
	switch parsed.Scheme {
	case "socks5":
		var proxyAuth *proxy.Auth
		if parsed.User != nil {
			username := parsed.User.Username()
			password, _ := parsed.User.Password()
			proxyAuth = &proxy.Auth{User: username, Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", parsed.Host, proxyAuth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
			return httpClient
		}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	default:
		log.Warnf("unsupported proxy scheme %q, using direct connection", parsed.Scheme)
	}
	if transport != nil {
		httpClient.Transport = transport
	}
	return httpClient
}

// ProxyDialer returns a dialer honoring the proxy URL, falling back to a direct dialer.
func ProxyDialer(proxyURL string) proxy.Dialer {
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return proxy.Direct
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		log.Errorf("failed to parse proxy URL %q: %v", proxyURL, err)
		return proxy.Direct
	}
	dialer, err := proxy.FromURL(parsed, proxy.Direct)
	if err != nil {
		log.Errorf("failed to create proxy dialer for %q: %v", proxyURL, err)
		return proxy.Direct
	}
	return dialer
}

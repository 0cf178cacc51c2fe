package util

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var ipServices = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

// getPublicIP asks the ipServices in turn and returns the first answer.
func getPublicIP(ctx context.Context) (string, error) {
	for _, service := range ipServices {
		ip, err := fetchIP(ctx, service)
		if err != nil {
			log.Debugf("failed to get public IP from %s: %v", service, err)
			continue
		}
		return ip, nil
	}
	return "", fmt.Errorf("all IP services failed")
}

func fetchIP(ctx context.Context, service string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, service, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Debugf("failed to close response body from %s: %v", service, errClose)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("unexpected answer %q", ip)
	}
	return ip, nil
}

// getOutboundIP returns the local address used for outbound traffic.
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("could not assert UDP address type")
	}
	return localAddr.IP.String(), nil
}

// GetIPAddress returns the public IP when it can be discovered, else the
// outbound IP, else loopback.
func GetIPAddress() string {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if publicIP, err := getPublicIP(ctx); err == nil {
		return publicIP
	}
	if outboundIP, err := getOutboundIP(); err == nil {
		return outboundIP
	}
	return "127.0.0.1"
}

// SSHTunnelInstructions renders the commands that forward the OAuth callback
// port from an operator's machine to host.
func SSHTunnelInstructions(port int, host string) string {
	border := strings.Repeat("=", 80)
	var b strings.Builder
	fmt.Fprintln(&b, "The login callback only reaches this machine on 127.0.0.1. From a remote desktop, forward the port first:")
	fmt.Fprintln(&b, border)
	fmt.Fprintf(&b, "  ssh -L %d:127.0.0.1:%d root@%s -p 22\n", port, port, host)
	fmt.Fprintf(&b, "  ssh -i <path_to_your_key> -L %d:127.0.0.1:%d root@%s -p 22\n", port, port, host)
	fmt.Fprintln(&b, "  Adjust '-p 22' when the SSH port differs. Pasting the callback URL works too.")
	fmt.Fprintln(&b, border)
	return b.String()
}

// PrintSSHTunnelInstructions writes SSHTunnelInstructions for the detected address.
func PrintSSHTunnelInstructions(w io.Writer, port int) {
	_, _ = io.WriteString(w, SSHTunnelInstructions(port, GetIPAddress()))
}

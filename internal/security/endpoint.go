package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateEndpointURL checks an outbound collaborator URL (sanctions API,
// price feed, sanctions list). Cloud metadata and link-local hosts are
// refused; requireTLS additionally demands https.
func ValidateEndpointURL(rawURL string, requireTLS bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL scheme must be http or https")
	}
	if requireTLS && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be https")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	host := u.Hostname()
	for _, b := range []string{"metadata.google.internal", "metadata.google"} {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("URL host %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return fmt.Errorf("link-local addresses are not allowed")
		}
		if ip.IsUnspecified() {
			return fmt.Errorf("unspecified addresses are not allowed")
		}
	}
	return nil
}

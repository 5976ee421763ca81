package entity

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

// maxURLLength defines the maximum allowed length for feed and entry URLs.
const maxURLLength = 2048

// ValidateEntryURL checks the form of a URL taken from feed content:
// http or https, a host, and at most maxURLLength characters. It does no
// network lookups.
func ValidateEntryURL(rawURL string) error {
	_, err := parseHTTPURL(rawURL)
	return err
}

// ValidateURL validates a feed URL. On top of ValidateEntryURL, hosts
// resolving to private networks are rejected so a discovered link cannot
// point the fetcher inward.
func ValidateURL(rawURL string) error {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return err
	}

	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return &ValidationError{Field: "url", Message: "url cannot point to private network"}
		}
		return nil
	}
	ips, err := net.LookupIP(host)
	if err == nil {
		for _, ip := range ips {
			if isPrivateIP(ip) {
				return &ValidationError{Field: "url", Message: "url cannot point to private network"}
			}
		}
	}
	return nil
}

func parseHTTPURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, &ValidationError{Field: "url", Message: "URL is required"}
	}
	if len(rawURL) > maxURLLength {
		return nil, &ValidationError{
			Field:   "url",
			Message: fmt.Sprintf("url must not exceed %d characters", maxURLLength),
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ValidationError{Field: "url", Message: fmt.Sprintf("parse URL: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ValidationError{Field: "url", Message: "URL must use http or https scheme"}
	}
	if u.Host == "" {
		return nil, &ValidationError{Field: "url", Message: "URL must have a valid host"}
	}
	return u, nil
}

var privateIPv4Ranges = func() []*net.IPNet {
	cidrs := []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "169.254.0.0/16"}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, _ := net.ParseCIDR(c)
		nets = append(nets, n)
	}
	return nets
}()

// isPrivateIP checks loopback, link-local and RFC1918 ranges.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return true
	}
	for _, n := range privateIPv4Ranges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// NormalizeTags lowercases and trims tags, drops empties and duplicates,
// and returns them sorted.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

package provision

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ProxyMode selects how the remote browser routes traffic.
const (
	ProxyModeNone = "none"
	ProxyModeHTTP = "http"
)

// ProxySpec is the proxy descriptor sent to the provisioning service.
type ProxySpec struct {
	Mode     string `json:"mode"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// NavigatorOptions describes the randomized browser identity.
type NavigatorOptions struct {
	UserAgent  string `json:"userAgent"`
	Resolution string `json:"resolution"`
	Language   string `json:"language"`
	Platform   string `json:"platform"`
}

// FingerprintOptions is the remote profile creation payload.
type FingerprintOptions struct {
	Name      string           `json:"name"`
	OS        string           `json:"os"`
	Navigator NavigatorOptions `json:"navigator"`
	Proxy     ProxySpec        `json:"proxy"`
}

// ParseProxy parses the profile proxy grammar. Three forms are accepted:
//
//	user:pass@host:port   authenticated HTTP proxy
//	host|port             unauthenticated HTTP proxy
//	""                    no proxy
func ParseProxy(raw string) (ProxySpec, error) {
	if raw == "" {
		return ProxySpec{Mode: ProxyModeNone}, nil
	}

	if at := strings.LastIndex(raw, "@"); at >= 0 {
		creds, addr := raw[:at], raw[at+1:]
		user, pass, ok := strings.Cut(creds, ":")
		if !ok {
			return ProxySpec{}, fmt.Errorf("invalid proxy credentials %q", creds)
		}
		host, port, err := splitHostPort(addr, ":")
		if err != nil {
			return ProxySpec{}, err
		}
		return ProxySpec{Mode: ProxyModeHTTP, Host: host, Port: port, Username: user, Password: pass}, nil
	}

	host, port, err := splitHostPort(raw, "|")
	if err != nil {
		return ProxySpec{}, err
	}
	return ProxySpec{Mode: ProxyModeHTTP, Host: host, Port: port}, nil
}

func splitHostPort(addr, sep string) (string, int, error) {
	host, portStr, ok := strings.Cut(addr, sep)
	if !ok || host == "" {
		return "", 0, fmt.Errorf("invalid proxy address %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid proxy port %q", portStr)
	}
	return host, port, nil
}

// Candidate sets for fingerprint randomization. Values mirror common
// real-world desktop configurations so a profile blends in.
var (
	userAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	}

	locales = []string{"en-US", "en-GB", "nl-NL", "de-DE", "es-ES"}

	resolutions = []string{"1920x1080", "1920x1200", "2560x1440", "1680x1050", "1440x900"}
)

// NewFingerprint builds a randomized creation payload for a logical profile.
func NewFingerprint(profileID, proxy string) (FingerprintOptions, error) {
	spec, err := ParseProxy(proxy)
	if err != nil {
		return FingerprintOptions{}, fmt.Errorf("profile %s: %w", profileID, err)
	}

	ua := userAgents[rand.IntN(len(userAgents))]
	osFamily := "win"
	platform := "Win32"
	if strings.Contains(ua, "Macintosh") {
		osFamily = "mac"
		platform = "MacIntel"
	}

	return FingerprintOptions{
		// Short suffix keeps display names unique across recreations.
		Name: fmt.Sprintf("%s-%s", profileID, uuid.New().String()[:8]),
		OS:   osFamily,
		Navigator: NavigatorOptions{
			UserAgent:  ua,
			Resolution: resolutions[rand.IntN(len(resolutions))],
			Language:   locales[rand.IntN(len(locales))],
			Platform:   platform,
		},
		Proxy: spec,
	}, nil
}

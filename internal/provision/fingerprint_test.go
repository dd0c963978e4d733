package provision

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProxy(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ProxySpec
	}{
		{
			name: "authenticated",
			raw:  "u:p@h:8080",
			want: ProxySpec{Mode: ProxyModeHTTP, Host: "h", Port: 8080, Username: "u", Password: "p"},
		},
		{
			name: "unauthenticated pipe form",
			raw:  "h|8080",
			want: ProxySpec{Mode: ProxyModeHTTP, Host: "h", Port: 8080},
		},
		{
			name: "empty means direct",
			raw:  "",
			want: ProxySpec{Mode: ProxyModeNone},
		},
		{
			name: "password containing at sign",
			raw:  "user:p@ss@proxy.example.com:3128",
			want: ProxySpec{Mode: ProxyModeHTTP, Host: "proxy.example.com", Port: 3128, Username: "user", Password: "p@ss"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProxy(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseProxyInvalid(t *testing.T) {
	invalid := []string{
		"u@h:8080",       // credentials without a colon
		"u:p@h",          // no port
		"h|notaport",     // non-numeric port
		"h|0",            // port out of range
		"h|70000",        // port out of range
		"|8080",          // empty host
		"justahostname",  // no separator at all
		"u:p@:8080",      // empty host with credentials
	}
	for _, raw := range invalid {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseProxy(raw)
			assert.Error(t, err)
		})
	}
}

func TestNewFingerprint(t *testing.T) {
	fp, err := NewFingerprint("club-a", "u:p@h:8080")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(fp.Name, "club-a-"), "name keeps the profile prefix")
	assert.Contains(t, []string{"win", "mac"}, fp.OS)
	assert.Contains(t, userAgents, fp.Navigator.UserAgent)
	assert.Contains(t, resolutions, fp.Navigator.Resolution)
	assert.Contains(t, locales, fp.Navigator.Language)
	assert.Equal(t, ProxyModeHTTP, fp.Proxy.Mode)

	// OS family must agree with the chosen user agent.
	if fp.OS == "mac" {
		assert.Contains(t, fp.Navigator.UserAgent, "Macintosh")
		assert.Equal(t, "MacIntel", fp.Navigator.Platform)
	} else {
		assert.Contains(t, fp.Navigator.UserAgent, "Windows")
		assert.Equal(t, "Win32", fp.Navigator.Platform)
	}
}

func TestNewFingerprintBadProxy(t *testing.T) {
	_, err := NewFingerprint("club-a", "broken|proxy|string")
	assert.Error(t, err)
}

func TestNewFingerprintNamesUnique(t *testing.T) {
	a, err := NewFingerprint("club-a", "")
	require.NoError(t, err)
	b, err := NewFingerprint("club-a", "")
	require.NoError(t, err)
	assert.NotEqual(t, a.Name, b.Name)
}

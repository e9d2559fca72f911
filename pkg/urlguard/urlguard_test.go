package urlguard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticResolver avoids DNS in tests.
func staticResolver(table map[string][]string) func(string) ([]string, error) {
	return func(host string) ([]string, error) {
		addrs, ok := table[host]
		if !ok {
			return nil, errors.New("no such host")
		}
		return addrs, nil
	}
}

func TestValidateSchemes(t *testing.T) {
	g := New()

	rejected := []string{
		"file:///etc/passwd",
		"ftp://example.com/file",
		"javascript:alert(1)",
		"data:text/html;base64,PGI+",
		"ldap://example.com",
		"gopher://example.com",
		"dict://example.com",
		"//example.com/path",
	}
	for _, raw := range rejected {
		assert.Error(t, g.Validate(raw), "should reject %q", raw)
	}
}

func TestValidateHosts(t *testing.T) {
	g := &Guard{Resolver: staticResolver(map[string][]string{
		"api.example.com":  {"93.184.216.34"},
		"internal.corp":    {"10.1.2.3"},
		"dual.example.com": {"93.184.216.34", "192.168.0.9"},
	})}

	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"https://api.example.com/v1", false},
		{"http://api.example.com", false},
		{"https://internal.corp/admin", true},
		{"https://dual.example.com", true}, // any private address taints the host
		{"https://10.0.0.5/metadata", true},
		{"https://172.16.0.1", true},
		{"https://192.168.1.1", true},
		{"https://169.254.169.254/latest/meta-data", true},
		{"https://0.0.0.0", true},
		{"https://[fc00::1]", true},
		{"https://[fe80::1]", true},
		{"https://8.8.8.8", false},
		// Development exception.
		{"http://localhost:3000", false},
		{"http://api.localhost:3000", false},
		{"http://127.0.0.1:8080", false},
		{"http://127.8.8.8", false},
		{"http://[::1]:9000", false},
		{"https://nosuchhost.example", true},
	}
	for _, tt := range tests {
		err := g.Validate(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, "should reject %q", tt.raw)
		} else {
			assert.NoError(t, err, "should accept %q", tt.raw)
		}
	}
}

func TestValidateReasonNamesPolicy(t *testing.T) {
	g := New()
	err := g.Validate("ftp://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp")

	err = g.Validate("https://10.0.0.5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private")
}

func TestIsPrivateIP(t *testing.T) {
	assert.False(t, IsPrivateIP("127.0.0.1"), "loopback is explicitly allowed")
	assert.False(t, IsPrivateIP("::1"))
	assert.True(t, IsPrivateIP("10.0.0.5"))
	assert.True(t, IsPrivateIP("172.20.1.1"))
	assert.True(t, IsPrivateIP("192.168.0.1"))
	assert.True(t, IsPrivateIP("169.254.0.1"))
	assert.True(t, IsPrivateIP("0.0.0.1"))
	assert.True(t, IsPrivateIP("255.0.0.1"))
	assert.True(t, IsPrivateIP("fc00::1"))
	assert.True(t, IsPrivateIP("fe80::1"))
	assert.False(t, IsPrivateIP("8.8.8.8"))
	assert.False(t, IsPrivateIP("not-an-ip"))
}

package command

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/relayforge/relayforge/pkg/domain"
)

func TestBuildRejectsNonCurl(t *testing.T) {
	b := NewBuilder("", nil)
	for _, text := range []string{
		"wget https://example.com",
		"rm -rf /",
		"curlx https://example.com",
		"",
	} {
		_, err := b.Build(text)
		require.Error(t, err, "should reject %q", text)
		assert.True(t, errors.Is(err, domain.ErrSecurityRejected))
	}
}

func TestBuildRejectsShellControl(t *testing.T) {
	b := NewBuilder("", nil)
	tests := []string{
		"curl https://example.com; rm -rf /",
		"curl https://example.com && echo pwned",
		"curl https://example.com | tee /etc/passwd",
		"curl https://example.com `id`",
		"curl https://example.com?x=$HOME",
		// NFKC normalization folds fullwidth lookalikes into ASCII.
		"curl https://example.com； rm -rf /",
	}
	for _, text := range tests {
		_, err := b.Build(text)
		require.Error(t, err, "should reject %q", text)
		assert.True(t, errors.Is(err, domain.ErrSecurityRejected))
	}
}

func TestBuildRejectsDangerousFlags(t *testing.T) {
	b := NewBuilder("", nil)
	tests := []struct {
		text string
		flag string
	}{
		{"curl -o out.txt https://x", "-o"},
		{"curl --output out.txt https://x", "--output"},
		{"curl -T secrets.txt https://x", "-T"},
		{"curl --upload-file secrets.txt https://x", "--upload-file"},
		// Quoting must not hide a flag from the deny-list.
		{"curl '-o' /tmp/pwn https://x", "-o"},
		{`curl "-o" /tmp/pwn https://x`, "-o"},
		{"curl -''o /tmp/pwn https://x", "-o"},
		// Attached-value spellings curl also accepts.
		{"curl -o/tmp/pwn https://x", "-o"},
		{"curl -Tsecrets.txt https://x", "-T"},
		{"curl --output=/tmp/pwn https://x", "--output"},
		{"curl --upload-file=secrets.txt https://x", "--upload-file"},
	}
	for _, tt := range tests {
		_, err := b.Build(tt.text)
		require.Error(t, err, "should reject %q", tt.text)
		assert.Contains(t, err.Error(), tt.flag)
	}
}

func TestBuildAcceptsEmbeddedFlagText(t *testing.T) {
	b := NewBuilder("", nil)
	args, err := b.Build("curl https://example.com/-options")
	require.NoError(t, err)
	assert.Contains(t, args, "https://example.com/-options")
}

func TestBuildStripsCurlAndQuotes(t *testing.T) {
	b := NewBuilder("", nil)
	args, err := b.Build(`curl -X POST -H 'Content-Type: application/json' -d '{"name":"John Doe"}' https://api.example.com/users`)
	require.NoError(t, err)

	assert.Equal(t, "-X", args[0])
	assert.Contains(t, args, "Content-Type: application/json")
	assert.Contains(t, args, `{"name":"John Doe"}`)
	assert.NotContains(t, args, "curl")
}

func TestEnsureFlagsIdempotent(t *testing.T) {
	once := EnsureFlags([]string{"-X", "GET", "https://example.com"})
	twice := EnsureFlags(append([]string(nil), once...))
	assert.Equal(t, once, twice)

	assert.Contains(t, once, "-s")
	assert.Contains(t, once, "-w")
	assert.Contains(t, once, StatusMarkerFormat)
}

func TestEnsureFlagsRespectsExisting(t *testing.T) {
	args := EnsureFlags([]string{"--silent", "--write-out", "custom", "https://x"})
	assert.NotContains(t, args, "-s")
	assert.NotContains(t, args, "-w")
}

func TestRewriteLoopback(t *testing.T) {
	args := []string{"http://localhost:3000/api", "http://127.0.0.1:9090/metrics", "https://api.example.com/v1"}
	got := RewriteLoopback(args, "172.17.0.1")
	assert.Equal(t, []string{
		"http://172.17.0.1:3000/api",
		"http://172.17.0.1:9090/metrics",
		"https://api.example.com/v1",
	}, got)
}

func TestRewriteLoopbackLeavesRemoteHostsAlone(t *testing.T) {
	args := []string{
		"https://mylocalhost.example.com/api",
		"https://sub.localhost.example.com/api",
		"https://app.localhost/path",
		"http://127.0.0.10:8080/",
		"http://1127.0.0.1/",
	}
	got := RewriteLoopback(args, "172.17.0.1")
	assert.Equal(t, args, got, "hostnames merely containing a loopback form must not change")
}

func TestBuildSkipsRewriteWithoutGateway(t *testing.T) {
	b := NewBuilder("", nil)
	args, err := b.Build("curl http://localhost:3000/api")
	require.NoError(t, err)
	assert.Contains(t, args, "http://localhost:3000/api")

	b = NewBuilder("172.17.0.1", nil)
	args, err = b.Build("curl http://localhost:3000/api")
	require.NoError(t, err)
	assert.Contains(t, args, "http://172.17.0.1:3000/api")
}

// Any command text containing a shell control character is rejected,
// regardless of what surrounds it.
func TestBuildRejectsControlCharsProperty(t *testing.T) {
	b := NewBuilder("", nil)
	controls := []rune(shellControlChars)

	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.StringMatching(`[a-zA-Z0-9 ./:_-]{0,40}`).Draw(t, "prefix")
		suffix := rapid.StringMatching(`[a-zA-Z0-9 ./:_-]{0,40}`).Draw(t, "suffix")
		ctrl := rapid.SampledFrom(controls).Draw(t, "ctrl")

		text := "curl " + prefix + string(ctrl) + suffix
		_, err := b.Build(text)
		if err == nil {
			t.Fatalf("accepted %q", text)
		}
		if !errors.Is(err, domain.ErrSecurityRejected) {
			t.Fatalf("wrong error class for %q: %v", text, err)
		}
	})
}

func TestBuildVectorIsShellFree(t *testing.T) {
	b := NewBuilder("", nil)
	args, err := b.Build(`curl -H "X-Note: spaced value" https://api.example.com`)
	require.NoError(t, err)
	for _, a := range args {
		assert.False(t, strings.ContainsAny(a, shellControlChars), "arg %q", a)
	}
}

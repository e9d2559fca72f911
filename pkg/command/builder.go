// Package command turns model-generated curl command text into a sanitized
// argument vector. The text is untrusted at every stage: it is normalized,
// checked against an explicit deny-list and tokenized with a shell-quoting
// aware splitter without ever invoking a shell.
package command

import (
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"
	"mvdan.cc/sh/v3/shell"

	"github.com/relayforge/relayforge/pkg/domain"
)

// shellControlChars would alter semantics if the vector ever reached a
// shell. No shell is spawned, but embedded control characters are rejected
// outright as defense in depth.
const shellControlChars = ";&|`$"

// dangerousFlags are curl flags that read or write host files. They are
// checked against the unquoted argument vector, so quoting tricks like
// '-o' or -''o cannot hide them; the same text embedded inside a URL
// segment stays harmless because it never forms its own argument.
var dangerousFlags = map[string]struct{}{
	"--upload-file": {},
	"-T":            {},
	"--output":      {},
	"-o":            {},
}

const (
	silentFlag      = "-s"
	writeOutFlag    = "-w"
	// StatusMarkerFormat makes curl append the HTTP status in a fixed,
	// parseable trailer that the executor strips back out.
	StatusMarkerFormat = "\nHTTP_STATUS:%{http_code}"
)

// Builder validates command text and produces argument vectors for the
// executor. GatewayHost, when set, rewrites loopback references so that
// an executor running in an isolated network namespace can still reach
// services on the host.
type Builder struct {
	GatewayHost string
	logger      *slog.Logger
}

// NewBuilder returns a Builder. gatewayHost may be empty when the executor
// shares the host network namespace.
func NewBuilder(gatewayHost string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{GatewayHost: gatewayHost, logger: logger}
}

// Build validates, tokenizes and normalizes a command. The returned vector
// has the leading curl token stripped and the silent and status-marker
// flags appended.
func (b *Builder) Build(text string) ([]string, error) {
	text = norm.NFKC.String(strings.TrimSpace(text))

	if err := validate(text); err != nil {
		b.logger.Warn("Command rejected", "reason", err.Error())
		return nil, err
	}

	args, err := shell.Fields(text, nil)
	if err != nil {
		return nil, &domain.DomainError{
			Err:     domain.ErrSecurityRejected,
			Code:    domain.CodeSecurityRejected,
			Message: fmt.Sprintf("command could not be tokenized: %v", err),
		}
	}
	args = args[1:] // drop the leading curl token

	// The deny-list runs on the unquoted vector, after shell.Fields has
	// stripped any quoting that disguised a flag in the raw text.
	for _, tok := range args {
		if flag, bad := dangerousToken(tok); bad {
			err := rejection(fmt.Sprintf("dangerous flag detected: %s", flag))
			b.logger.Warn("Command rejected", "reason", err.Error())
			return nil, err
		}
	}

	args = EnsureFlags(args)
	if b.GatewayHost != "" {
		args = RewriteLoopback(args, b.GatewayHost)
	}
	return args, nil
}

func validate(text string) error {
	if text != "curl" && !strings.HasPrefix(text, "curl ") && !strings.HasPrefix(text, "curl\t") {
		return rejection("command must start with curl")
	}
	if i := strings.IndexAny(text, shellControlChars); i >= 0 {
		return rejection(fmt.Sprintf("shell control character detected: %q", text[i]))
	}
	return nil
}

// dangerousToken reports whether an argument is a deny-listed flag,
// covering the attached-value spellings curl accepts: --output=file for
// long flags and -ofile for short ones.
func dangerousToken(tok string) (string, bool) {
	if _, bad := dangerousFlags[tok]; bad {
		return tok, true
	}
	for flag := range dangerousFlags {
		if strings.HasPrefix(flag, "--") {
			if strings.HasPrefix(tok, flag+"=") {
				return flag, true
			}
		} else if len(tok) > len(flag) && strings.HasPrefix(tok, flag) {
			return flag, true
		}
	}
	return "", false
}

func rejection(msg string) error {
	return &domain.DomainError{
		Err:     domain.ErrSecurityRejected,
		Code:    domain.CodeSecurityRejected,
		Message: msg,
	}
}

// EnsureFlags appends the silent-mode flag and the status-marker write-out
// flag when absent. Applying it twice yields the same vector.
func EnsureFlags(args []string) []string {
	hasSilent := false
	hasWriteOut := false
	for _, a := range args {
		switch a {
		case silentFlag, "--silent":
			hasSilent = true
		case writeOutFlag, "--write-out":
			hasWriteOut = true
		}
	}
	if !hasSilent {
		args = append(args, silentFlag)
	}
	if !hasWriteOut {
		args = append(args, writeOutFlag, StatusMarkerFormat)
	}
	return args
}

// RewriteLoopback replaces loopback references in argument values with the
// container-to-host gateway so intra-host services stay reachable from an
// isolated network namespace. Only whole-host occurrences are rewritten:
// hostnames that merely contain "localhost" as a substring, like
// mylocalhost.example.com or sub.localhost, are left alone.
func RewriteLoopback(args []string, gateway string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		a = rewriteHostRefs(a, "127.0.0.1", gateway)
		a = rewriteHostRefs(a, "localhost", gateway)
		out[i] = a
	}
	return out
}

// rewriteHostRefs replaces occurrences of host that stand on their own,
// delimited by non-hostname characters on both sides.
func rewriteHostRefs(s, host, gateway string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], host)
		if j < 0 {
			b.WriteString(s[i:])
			return b.String()
		}
		j += i
		end := j + len(host)
		b.WriteString(s[i:j])
		if (j == 0 || !isHostChar(s[j-1])) && (end == len(s) || !isHostChar(s[end])) {
			b.WriteString(gateway)
		} else {
			b.WriteString(host)
		}
		i = end
	}
	return b.String()
}

func isHostChar(c byte) bool {
	return c == '.' || c == '-' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

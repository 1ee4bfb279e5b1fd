package observability

import (
	"regexp"
	"strings"
)

var (
	rePassword = regexp.MustCompile(`(?i)((?:password|pwd)=)([^\s;&]+)`)
	reToken    = regexp.MustCompile(`(?i)(token=|bearer\s+)([A-Za-z0-9._~+/=-]+)`)
	reDSNPass  = regexp.MustCompile(`(://)([^:/@\s]+):([^@\s]+)(@)`)
	reSecret   = regexp.MustCompile(`(?i)((?:apikey|api_key|secret|access_key|secret_key|private_key)=)([^\s;&]+)`)
)

// Mask replaces secrets in connection strings, headers and error text with "***".
// URL userinfo is masked as "*:*".
func Mask(s string) string {
	if s == "" {
		return s
	}
	out := s
	out = rePassword.ReplaceAllString(out, "$1***")
	out = reToken.ReplaceAllString(out, "$1***")
	out = reDSNPass.ReplaceAllString(out, "$1*:*$4")
	out = reSecret.ReplaceAllString(out, "$1***")
	return out
}

// MaskCredential keeps a short prefix of an opaque credential so log lines stay correlatable.
func MaskCredential(credential string) string {
	credential = strings.TrimSpace(credential)
	if len(credential) <= 8 {
		return "***"
	}
	return credential[:4] + "***"
}

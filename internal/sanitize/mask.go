package sanitize

import (
	"regexp"
	"strings"
)

var (
	rePassword = regexp.MustCompile(`(?i)(password=)([^\s;]+)`)
	reToken    = regexp.MustCompile(`(?i)(token=|bearer\s+)([A-Za-z0-9._-]+)`)
	reDSNPass  = regexp.MustCompile(`(?i)(://)([^:/@\s]+):([^@\s]+)(@)`)
	reAPIKey   = regexp.MustCompile(`(?i)(apikey=|api_key=)([^\s;]+)`)
	reHost     = regexp.MustCompile(`(?i)\b(host[=\s]+)([^\s;,]+)`)
	reIPv4     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b`)
	rePort     = regexp.MustCompile(`(?i)\b(port[=\s]+)(\d+)`)
	reTable    = regexp.MustCompile(`(?i)\b(table|relation|collection)\s+"[^"]*"`)
	reColumn   = regexp.MustCompile(`(?i)\b(column)\s+"[^"]*"`)
)

// Mask removes credentials and network locations from s so it can be logged.
// Userinfo in DSNs is replaced entirely.
func Mask(s string) string {
	out := s
	out = rePassword.ReplaceAllString(out, "$1***")
	out = reToken.ReplaceAllString(out, "$1***")
	out = reDSNPass.ReplaceAllString(out, "$1*:*$4")
	out = reAPIKey.ReplaceAllString(out, "$1***")
	out = reHost.ReplaceAllString(out, "$1***")
	out = reIPv4.ReplaceAllString(out, "***")
	out = rePort.ReplaceAllString(out, "$1***")
	for _, k := range []string{"PGPASSWORD", "OPENAI_API_KEY", "OPENROUTER_API_KEY"} {
		out = strings.ReplaceAll(out, k+"=", k+"=***")
	}
	return out
}

// Redact is Mask plus removal of quoted schema object names. Use it when an
// error must be echoed somewhere less trusted than the server log.
func Redact(s string) string {
	out := Mask(s)
	out = reTable.ReplaceAllString(out, `$1 "***"`)
	out = reColumn.ReplaceAllString(out, `$1 "***"`)
	return out
}

package security

import (
	"net/url"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var (
	secretKeyExpr        = `(?:password|passwd|secret|sessionid|api[_-]?key|[a-z0-9._-]*token[a-z0-9._-]*)`
	secretKeyPattern     = regexp.MustCompile(`(?i)^` + secretKeyExpr + `$`)
	kvSecretPattern      = regexp.MustCompile(`(?i)(` + secretKeyExpr + `)\s*[:=]\s*(?:"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[^\s"'&;,]+)`)
	jsonSecretPattern    = regexp.MustCompile(`(?i)("` + secretKeyExpr + `"\s*:\s*)"(?:[^"\\]|\\.)*"`)
	authorizationPattern = regexp.MustCompile(`(?i)(authorization\s*:\s*)[^\r\n]+`)
	bearerTokenPattern   = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
	cookiePattern        = regexp.MustCompile(`(?i)((?:set-)?cookie\s*:\s*)[^\r\n]+`)
	urlUserinfoPattern   = regexp.MustCompile(`(?i)(\b(?:https?|wss?)://)[^\s/@]+@`)
)

// RedactText masks credentials in free text: backend error bodies, transport
// errors and anything else that ends up in a log line or on the terminal.
func RedactText(input string) string {
	if input == "" {
		return ""
	}
	out := jsonSecretPattern.ReplaceAllString(input, `${1}"`+redacted+`"`)
	out = kvSecretPattern.ReplaceAllStringFunc(out, func(match string) string {
		idx := strings.IndexAny(match, ":=")
		if idx < 0 {
			return redacted
		}
		return match[:idx+1] + redacted
	})
	out = authorizationPattern.ReplaceAllString(out, `${1}`+redacted)
	out = bearerTokenPattern.ReplaceAllString(out, "Bearer "+redacted)
	out = cookiePattern.ReplaceAllString(out, `${1}`+redacted)
	out = urlUserinfoPattern.ReplaceAllString(out, `${1}`+redacted+`@`)
	return out
}

// RedactURL masks the password and secret-looking query values of a
// backend or socket URL. Unparseable input falls back to RedactText.
func RedactURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return RedactText(raw)
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
		}
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if secretKeyPattern.MatchString(k) {
				q[k] = []string{redacted}
			}
		}
		u.RawQuery = q.Encode()
	}
	out := u.String()
	// url.String escapes the brackets of the marker.
	return strings.ReplaceAll(out, url.QueryEscape(redacted), redacted)
}

// RedactError is RedactText applied to err's message; nil yields "".
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return RedactText(err.Error())
}

package fileimport

import (
    "regexp"
    "strings"
)

var (
    emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+`)
    phoneRe = regexp.MustCompile(`\b\+?\d[\d\-\s]{7,}\b`)
    urlRe   = regexp.MustCompile(`https?://[^\s]+`)
    tokenRe = regexp.MustCompile(`(?i)\b(?:token|secret|password|apikey|api_key|bearer)[:=\s]+[A-Za-z0-9\-\._~+/]{8,}\b`)
)

// Redact scrubs obvious PII and secrets from chat text before it leaves the
// process. Assignee resolution happens on the raw text first; only the
// scrubbed form may be sent to the extraction API.
func Redact(s string) string {
    s = strings.ReplaceAll(s, "\r\n", "\n")
    s = tokenRe.ReplaceAllString(s, "<secret>")
    s = emailRe.ReplaceAllString(s, "<email>")
    s = urlRe.ReplaceAllString(s, "<url>")
    s = phoneRe.ReplaceAllString(s, "<phone>")
    return s
}

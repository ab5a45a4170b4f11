// SPDX-License-Identifier: Apache-2.0

// Package mask redacts credentials from log lines before they reach an
// Emitter or the persisted log table.
package mask

import "regexp"

var (
	kvPattern   = regexp.MustCompile(`(?i)(password|pwd|pass)=([^\s&]+)`)
	jsonPattern = regexp.MustCompile(`(?i)"(password|pwd|pass)"\s*:\s*"([^"]*)"`)
	urlPattern  = regexp.MustCompile(`(postgres(?:ql)?://[^:/\s]+):([^@/\s]+)@`)
)

// Mask redacts three credential patterns: key=value
// credentials, the JSON password field, and the userinfo section of a
// postgres:// URL. It keeps the first 3 characters of the secret and
// replaces the rest with "***", and is idempotent: Mask(Mask(s)) == Mask(s).
func Mask(s string) string {
	s = kvPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := kvPattern.FindStringSubmatch(m)
		return sub[1] + "=" + keepPrefix(sub[2])
	})
	s = jsonPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := jsonPattern.FindStringSubmatch(m)
		return `"` + sub[1] + `": "` + keepPrefix(sub[2]) + `"`
	})
	s = urlPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := urlPattern.FindStringSubmatch(m)
		return sub[1] + ":" + keepPrefix(sub[2]) + "@"
	})
	return s
}

// keepPrefix keeps the first 3 characters of secret and replaces the
// rest with "***". Leaving an already-masked value (ending in "***")
// untouched is what makes Mask idempotent.
func keepPrefix(secret string) string {
	if len(secret) >= 3 && secret[len(secret)-3:] == "***" {
		return secret
	}
	if len(secret) <= 3 {
		return secret + "***"
	}
	return secret[:3] + "***"
}

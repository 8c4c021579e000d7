package util

import "strings"

// SafeTruncate truncates a string to at most maxLen bytes without panicking.
// Used when logging token handles and challenges, where only a prefix may be
// shown. A negative maxLen yields an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes so registered redirect and
// post-logout URIs compare equal regardless of a trailing slash.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

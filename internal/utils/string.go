package utils

import "regexp"

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeID replaces every character outside [a-zA-Z0-9._-] with '-'.
// The result is safe as a file name and stable for the same input.
func SanitizeID(s string) string {
	return unsafeIDChars.ReplaceAllString(s, "-")
}

// IsSafeName reports whether s can be used as a single path element as is:
// non-empty, only [a-zA-Z0-9._-], and neither "." nor "..".
func IsSafeName(s string) bool {
	return s != "" && s != "." && s != ".." && !unsafeIDChars.MatchString(s)
}

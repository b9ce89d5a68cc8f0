// Package sanitize vets user- and agent-supplied path strings before they
// reach any external process invocation.
package sanitize

import "strings"

// rejected lists the shell metacharacters that disqualify a path outright.
const rejected = ";&|`$(){}[]<>\\!\n\r"

// Path validates a path or exclude pattern and returns the trimmed string.
// The second return is false when the input is rejected; callers must treat
// that as a hard validation failure, never a default.
//
// Accepted shapes: absolute ("/..."), relative-dotted ("...."), or containing
// a glob wildcard ("*"). Everything else is rejected.
func Path(input string) (string, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", false
	}
	if strings.ContainsAny(s, rejected) {
		return "", false
	}
	switch {
	case strings.HasPrefix(s, "/"):
		return s, true
	case strings.HasPrefix(s, "."):
		return s, true
	case strings.Contains(s, "*"):
		return s, true
	}
	return "", false
}

// Paths validates every entry of a path list. It returns the sanitized list
// and false (with the offending entry) on the first rejection.
func Paths(inputs []string) ([]string, string, bool) {
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		s, ok := Path(in)
		if !ok {
			return nil, in, false
		}
		out = append(out, s)
	}
	return out, "", true
}

// SourcePath validates a backup source path. Sources are joined under the
// version directory on the receiving side, so only absolute paths are
// accepted; a dotted or glob entry could place the transfer destination
// outside the version being written. Those shapes stay available to
// excludes via Path.
func SourcePath(input string) (string, bool) {
	s, ok := Path(input)
	if !ok || !strings.HasPrefix(s, "/") {
		return "", false
	}
	return s, true
}

// SourcePaths validates every entry of a source path list with SourcePath
// semantics.
func SourcePaths(inputs []string) ([]string, string, bool) {
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		s, ok := SourcePath(in)
		if !ok {
			return nil, in, false
		}
		out = append(out, s)
	}
	return out, "", true
}

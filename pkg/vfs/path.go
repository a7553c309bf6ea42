package vfs

import "strings"

// Segments splits a logical path into folder names. Leading, trailing and
// repeated slashes are ignored, so "", "/" and "//" all name the root.
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Clean returns the canonical form of path: segments joined by a single
// slash with no leading or trailing slash. The root is "".
func Clean(path string) string {
	return strings.Join(Segments(path), "/")
}

// Join appends name to the folder path dir.
func Join(dir, name string) string {
	dir = Clean(dir)
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

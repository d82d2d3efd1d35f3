// Package version compares BotWave dotted version strings such as "1.2.3".
package version

import (
	"strconv"
	"strings"
)

// Version holds the numeric parts of a dotted version.
type Version []int

// Parse splits s on dots. Any part that is not a base-10 integer makes the
// whole string parse as 0.0.0.
func Parse(s string) Version {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{0, 0, 0}
	}
	parts := strings.Split(s, ".")
	v := make(Version, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Version{0, 0, 0}
		}
		v = append(v, n)
	}
	return v
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Compare returns -1, 0 or 1. Parts are compared in order; when one version is
// a prefix of the other the shorter one is smaller.
func Compare(a, b Version) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// Newer reports whether remote is strictly greater than current.
func Newer(remote, current string) bool {
	return Compare(Parse(remote), Parse(current)) > 0
}

// Compatible reports whether two versions share major and minor parts.
func Compatible(a, b string) bool {
	va, vb := Parse(a), Parse(b)
	return Compare(head(va, 2), head(vb, 2)) == 0
}

func head(v Version, n int) Version {
	if len(v) < n {
		return v
	}
	return v[:n]
}

package bookid

import "sort"

// VersionLess compares two strings with embedded numbers compared
// numerically, so "ch2" sorts before "ch10". Non-digit runs compare
// bytewise.
func VersionLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		if isDigit(a[0]) && isDigit(b[0]) {
			na, ra := takeNumber(a)
			nb, rb := takeNumber(b)
			if na != nb {
				return numberLess(na, nb)
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

// SortVersions sorts paths in place using version-aware order.
func SortVersions(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		return VersionLess(paths[i], paths[j])
	})
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// takeNumber splits the leading digit run from s.
func takeNumber(s string) (string, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

// numberLess compares two digit strings numerically without parsing into
// ints, so arbitrarily long runs cannot overflow.
func numberLess(a, b string) bool {
	a = trimZeros(a)
	b = trimZeros(b)
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func trimZeros(s string) string {
	i := 0
	for i < len(s)-1 && s[i] == '0' {
		i++
	}
	return s[i:]
}

package plugin

import (
	"strconv"
	"strings"
)

// compareVersions compares two dotted numeric version strings.
// Missing trailing components are treated as zero, so "1.0" == "1.0.0".
// Non-numeric components compare as zero.
func compareVersions(a, b string) int {
	as := strings.Split(strings.TrimSpace(a), ".")
	bs := strings.Split(strings.TrimSpace(b), ".")

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(strings.TrimSpace(as[i]))
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(strings.TrimSpace(bs[i]))
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// versionSatisfies reports whether version matches the range expression.
// Supported forms: exact version, ">=v", ">v", "<=v", "<v", comma-joined
// constraints with AND semantics, and ""/"*" as wildcards.
func versionSatisfies(version, rangeExpr string) bool {
	expr := strings.TrimSpace(rangeExpr)
	if expr == "" || expr == "*" {
		return true
	}

	for _, part := range strings.Split(expr, ",") {
		if !satisfiesConstraint(version, strings.TrimSpace(part)) {
			return false
		}
	}
	return true
}

func satisfiesConstraint(version, constraint string) bool {
	switch {
	case constraint == "" || constraint == "*":
		return true
	case strings.HasPrefix(constraint, ">="):
		return compareVersions(version, constraint[2:]) >= 0
	case strings.HasPrefix(constraint, "<="):
		return compareVersions(version, constraint[2:]) <= 0
	case strings.HasPrefix(constraint, ">"):
		return compareVersions(version, constraint[1:]) > 0
	case strings.HasPrefix(constraint, "<"):
		return compareVersions(version, constraint[1:]) < 0
	case strings.HasPrefix(constraint, "=="):
		return compareVersions(version, constraint[2:]) == 0
	case strings.HasPrefix(constraint, "="):
		return compareVersions(version, constraint[1:]) == 0
	default:
		// Bare version means exact match.
		return compareVersions(version, constraint) == 0
	}
}

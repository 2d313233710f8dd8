package types

import "strings"

// IsAccountDir reports whether dir names an account log folder: a 12-digit
// account ID, or "o-<org>/<account>" for organization trails.
func IsAccountDir(dir string) bool {
	if org, account, ok := strings.Cut(dir, "/"); ok {
		return strings.HasPrefix(org, "o-") && len(org) > 2 && IsAccountID(account)
	}
	return IsAccountID(dir)
}

// IsAccountID reports whether s is a 12-digit AWS account ID.
func IsAccountID(s string) bool {
	if len(s) != 12 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

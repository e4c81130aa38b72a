package ratelimit

// Verdict is the outcome of an access list check.
type Verdict int

const (
	// VerdictNeutral means the identity is on neither list.
	VerdictNeutral Verdict = iota

	// VerdictAllow means the identity is whitelisted and always passes.
	VerdictAllow

	// VerdictDeny means the identity is blacklisted and always fails,
	// regardless of remaining quota.
	VerdictDeny
)

// AccessList holds per-limit allow and deny sets. Deny wins over allow.
type AccessList struct {
	allow map[string]struct{}
	deny  map[string]struct{}
}

// NewAccessList builds an access list from identity slices.
func NewAccessList(allow, deny []string) *AccessList {
	l := &AccessList{
		allow: make(map[string]struct{}, len(allow)),
		deny:  make(map[string]struct{}, len(deny)),
	}
	for _, id := range allow {
		l.allow[id] = struct{}{}
	}
	for _, id := range deny {
		l.deny[id] = struct{}{}
	}
	return l
}

// Check returns the verdict for an identity.
func (l *AccessList) Check(identity string) Verdict {
	if l == nil {
		return VerdictNeutral
	}
	if _, ok := l.deny[identity]; ok {
		return VerdictDeny
	}
	if _, ok := l.allow[identity]; ok {
		return VerdictAllow
	}
	return VerdictNeutral
}

// Empty reports whether both lists are empty.
func (l *AccessList) Empty() bool {
	return l == nil || (len(l.allow) == 0 && len(l.deny) == 0)
}

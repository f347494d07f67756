package domain

// Identity is the authenticated subject a token was minted for. The
// authoritative identity record lives outside this core; Identity carries
// only what token issuance and scope checks need.
type Identity struct {
	Subject string
	Scopes  []string
}

// HasScopes reports whether every required scope is present.
func (i Identity) HasScopes(required []string) bool {
	if len(required) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(i.Scopes))
	for _, s := range i.Scopes {
		held[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := held[s]; !ok {
			return false
		}
	}
	return true
}

package authstate

// Principal is the resolved identity of an authenticated user. It is set by
// the machine on entering StateAuthenticated and cleared on any
// unauthenticated-class transition; consumers only ever see copies.
type Principal struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Clone returns an independent copy, nil safe.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

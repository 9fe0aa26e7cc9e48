package types

// Principal is the authenticated identity acting on a request. It is
// threaded explicitly through every service and guard call; a nil
// *Principal means the caller is anonymous.
type Principal struct {
	Username string `json:"username"`
	Roles    []Role `json:"roles"`
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

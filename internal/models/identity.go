package models

// Identity is the authenticated caller. Admins speak for the staff side.
type Identity struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

func (i Identity) IsStaff() bool {
	return i.IsAdmin
}

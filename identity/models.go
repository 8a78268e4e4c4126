package identity

import "time"

// Role classifies a registered participant.
type Role string

const (
	RoleNone     Role = ""
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
)

// Participant is the domain representation of an address that registered a
// role. Roles are assigned exactly once; there is no update path.
type Participant struct {
	Address   string
	Role      Role
	CreatedAt time.Time
}

// RegisterRequest contains the registration data supplied by callers.
type RegisterRequest struct {
	Address string `json:"address"`
	Role    Role   `json:"role"`
}

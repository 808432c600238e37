package model

// Role classifies a storage target by visibility.
type Role string

const (
	// RoleLocal is the node-private volume.
	RoleLocal Role = "local"
	// RoleShared is the volume mounted across account boundaries.
	RoleShared Role = "shared"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleLocal || r == RoleShared
}

// Target is the static identity of one storage backend. Health state is
// tracked separately by the health monitor; Target itself never mutates
// after configuration load.
type Target struct {
	ID       string
	RootPath string
	Role     Role
}

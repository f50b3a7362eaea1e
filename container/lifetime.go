package container

// Lifetime controls how often a registered service is constructed.
type Lifetime int

const (
	// Singleton services are built once per container and shared by every scope.
	Singleton Lifetime = iota
	// Scoped services are built once per scope (request or dispatch).
	Scoped
	// Transient services are built on every resolution.
	Transient
)

func (l Lifetime) String() string {
	switch l {
	case Singleton:
		return "singleton"
	case Scoped:
		return "scoped"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

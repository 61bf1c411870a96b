package description

// ServerKind represents the type of a single server.
type ServerKind uint32

// ServerKind constants.
const (
	Unknown ServerKind = 1 << iota
	Standalone
	RSMember // historical catch-all, not surfaced directly
	RSGhost
	RSPrimary
	RSSecondary
	RSArbiter
	RSOther
	Mongos
	LoadBalancer
	PossiblePrimary
)

// String implements the fmt.Stringer interface.
func (kind ServerKind) String() string {
	switch kind {
	case Standalone:
		return "Standalone"
	case RSGhost:
		return "RSGhost"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case RSArbiter:
		return "RSArbiter"
	case RSOther:
		return "RSOther"
	case Mongos:
		return "Mongos"
	case LoadBalancer:
		return "LoadBalancer"
	case PossiblePrimary:
		return "PossiblePrimary"
	default:
		return "Unknown"
	}
}

// DataBearing returns true if this server kind stores user data and is subject
// to wire-version compatibility checks.
func (kind ServerKind) DataBearing() bool {
	switch kind {
	case Standalone, RSPrimary, RSSecondary, Mongos:
		return true
	default:
		return false
	}
}

package domain

// State is the derived lifecycle state of a plugin key. It is recomputed on
// every query and never stored.
type State string

const (
	StateNotFound        State = "NOT_FOUND"
	StateDiscovered      State = "DISCOVERED"        // on disk, no record
	StateInstalled       State = "INSTALLED"         // on disk, record with equal version
	StateMissingFromDisk State = "MISSING_FROM_DISK" // record, nothing on disk
	StateUpgradeRequired State = "UPGRADE_REQUIRED"  // on disk, record with another version
)

// States lists every state in declaration order.
func States() []State {
	return []State{StateNotFound, StateDiscovered, StateInstalled, StateMissingFromDisk, StateUpgradeRequired}
}

// HasRecord reports whether the state implies a registry record.
func (s State) HasRecord() bool {
	return s == StateInstalled || s == StateMissingFromDisk || s == StateUpgradeRequired
}

// OnDisk reports whether the state implies a manifest on disk.
func (s State) OnDisk() bool {
	return s == StateDiscovered || s == StateInstalled || s == StateUpgradeRequired
}

// Evaluate maps the presence of a descriptor and a record to exactly one
// state. Versions are compared for strict equality only.
func Evaluate(d *Descriptor, r *Record) State {
	switch {
	case d == nil && r == nil:
		return StateNotFound
	case r == nil:
		return StateDiscovered
	case d == nil:
		return StateMissingFromDisk
	case d.Version == r.Version:
		return StateInstalled
	default:
		return StateUpgradeRequired
	}
}

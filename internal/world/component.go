package world

// ComponentMask is a bitset naming which components an entity carries, and in
// wire form, which component values a payload includes.
type ComponentMask uint8

const (
	CompPosition ComponentMask = 1 << iota
	CompVelocity
	CompOrientation
	CompShape
	CompHealth
	CompColor
)

// CompAll covers every defined component.
const CompAll = CompPosition | CompVelocity | CompOrientation | CompShape | CompHealth | CompColor

// Has reports whether every bit in want is set.
func (m ComponentMask) Has(want ComponentMask) bool {
	return m&want == want
}

// EntityKind selects the component set an entity is spawned with.
type EntityKind string

const (
	KindPlayer EntityKind = "player"
	KindBullet EntityKind = "bullet"
)

// KindComponents returns the component set required by a kind, or zero for an
// unknown kind.
func KindComponents(kind EntityKind) ComponentMask {
	switch kind {
	case KindPlayer:
		return CompAll
	case KindBullet:
		return CompPosition | CompVelocity | CompOrientation | CompShape
	default:
		return 0
	}
}

// Health is a replicated hit point pool.
type Health struct {
	Current float64 `json:"current"`
	Max     float64 `json:"max"`
}

// Color is the team tint assigned on join.
type Color string

const (
	ColorWhite Color = "white"
	ColorBlack Color = "black"
)

package sim

import (
	"time"

	"riftline/server/internal/collision"
	"riftline/server/internal/lagcomp"
)

// Tuning groups the gameplay constants shared by the server step and the
// client prediction replay. Both sides must agree on these values or the
// replayed movement diverges from the authoritative result.
type Tuning struct {
	TickRate           int
	MoveSpeed          float64
	BulletSpeed        float64
	BulletHalf         float64
	FireRange          float64
	FireDamage         float64
	PlayerHalf         float64
	PlayerMaxHealth    float64
	InterpolationDelay time.Duration
}

// DefaultTuning returns the stock gameplay constants.
func DefaultTuning() Tuning {
	return Tuning{
		TickRate:           15,
		MoveSpeed:          160,
		BulletSpeed:        480,
		BulletHalf:         2,
		FireRange:          600,
		FireDamage:         25,
		PlayerHalf:         14,
		PlayerMaxHealth:    100,
		InterpolationDelay: 100 * time.Millisecond,
	}
}

// DT returns the fixed step duration in seconds.
func (t Tuning) DT() float64 {
	rate := t.TickRate
	if rate <= 0 {
		rate = 15
	}
	return 1.0 / float64(rate)
}

// Env carries the external capabilities a step needs. It is passed explicitly
// into Step so the simulation has no process-wide mutable state.
type Env struct {
	// Resolver sweeps actor movement against static geometry.
	Resolver collision.Resolver
	// BulletPath sweeps bullet movement. Bullets are allowed to leave the
	// playable bounds and expire via the out-of-bounds rule, so this is
	// normally a pass-through resolver.
	BulletPath collision.Resolver
	// Bounds is the region outside which entities are scheduled for removal.
	Bounds collision.Bounds
	// Compensator rewinds target positions for hit resolution. Nil on the
	// client, where commands never resolve hits.
	Compensator *lagcomp.History
	Tuning      Tuning
}

// Package collision defines the capability boundary between the simulation
// and the spatial engine that resolves movement. The simulation only depends
// on the Resolver interface; the grid/tile representation behind it is not
// part of this module.
package collision

import "riftline/server/internal/geom"

// Shape is the axis-aligned extent swept through the world when an entity
// moves. Half extents keep the centre-based math symmetric.
type Shape struct {
	HalfW float64 `json:"halfW"`
	HalfH float64 `json:"halfH"`
}

// Contact reports a surface the sweep ran into.
type Contact struct {
	Normal      geom.Vec2 `json:"normal"`
	Penetration float64   `json:"penetration"`
}

// Resolver sweeps a shape from pos by the given displacement and returns the
// resolved position plus any contacts. Implementations must be deterministic:
// the same inputs always produce the same outputs, with no hidden mutable
// state, so the client can replay movement for prediction.
type Resolver interface {
	Resolve(pos, displacement geom.Vec2, shape Shape) (geom.Vec2, []Contact)
}

// Bounds is the playable region. Entities fully outside it are scheduled for
// removal by the simulation.
type Bounds struct {
	Min geom.Vec2 `json:"min"`
	Max geom.Vec2 `json:"max"`
}

// Contains reports whether the point lies inside the bounds.
func (b Bounds) Contains(p geom.Vec2) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// ClampResolver is a minimal deterministic Resolver that slides shapes along
// the bounds walls. It stands in for the real collision engine in tests and
// in the default server wiring.
type ClampResolver struct {
	Bounds Bounds
}

// Resolve clamps the swept position so the shape stays inside the bounds and
// reports a contact per axis that was clamped.
func (r ClampResolver) Resolve(pos, displacement geom.Vec2, shape Shape) (geom.Vec2, []Contact) {
	next := pos.Add(displacement)
	var contacts []Contact
	if min := r.Bounds.Min.X + shape.HalfW; next.X < min {
		contacts = append(contacts, Contact{Normal: geom.Vec2{X: 1}, Penetration: min - next.X})
		next.X = min
	} else if max := r.Bounds.Max.X - shape.HalfW; next.X > max {
		contacts = append(contacts, Contact{Normal: geom.Vec2{X: -1}, Penetration: next.X - max})
		next.X = max
	}
	if min := r.Bounds.Min.Y + shape.HalfH; next.Y < min {
		contacts = append(contacts, Contact{Normal: geom.Vec2{Y: 1}, Penetration: min - next.Y})
		next.Y = min
	} else if max := r.Bounds.Max.Y - shape.HalfH; next.Y > max {
		contacts = append(contacts, Contact{Normal: geom.Vec2{Y: -1}, Penetration: next.Y - max})
		next.Y = max
	}
	return next, contacts
}

// PassResolver applies the displacement unmodified. Bullets use it so they
// can fly past the playable bounds and expire via the out-of-bounds rule.
type PassResolver struct{}

// Resolve returns pos+displacement with no contacts.
func (PassResolver) Resolve(pos, displacement geom.Vec2, _ Shape) (geom.Vec2, []Contact) {
	return pos.Add(displacement), nil
}

package simulation

import (
	"context"

	"riftline/server/logging"
)

const (
	// EventEntitySpawned is emitted when the simulation creates an entity.
	EventEntitySpawned logging.EventType = "simulation.entity_spawned"
	// EventEntityRemoved is emitted when the simulation removes an entity.
	EventEntityRemoved logging.EventType = "simulation.entity_removed"
	// EventHitLanded is emitted when a fire command connects with a target.
	EventHitLanded logging.EventType = "simulation.hit_landed"
)

// HitPayload captures the result of a landed hit.
type HitPayload struct {
	Damage int  `json:"damage"`
	Killed bool `json:"killed"`
}

// EntitySpawned publishes a debug event for a new entity.
func EntitySpawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntitySpawned,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Extra:    extra,
	})
}

// EntityRemoved publishes a debug event for a removed entity.
func EntityRemoved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntityRemoved,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Extra:    extra,
	})
}

// HitLanded publishes an info event when a shot connects.
func HitLanded(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload HitPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventHitLanded,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}

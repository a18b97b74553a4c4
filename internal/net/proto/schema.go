package proto

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// WireSchema generates JSON Schema documents for every envelope so clients
// in other languages can validate their codecs against the live server.
func WireSchema() (json.RawMessage, error) {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	messages := map[string]any{
		"joinResponse":  JoinResponse{},
		"stateMessage":  StateMessage{},
		"heartbeat":     HeartbeatMessage{},
		"clientMessage": ClientMessage{},
	}
	schemas := make(map[string]*jsonschema.Schema, len(messages))
	for name, msg := range messages {
		schemas[name] = reflector.Reflect(msg)
	}
	doc := struct {
		Ver      int                           `json:"ver"`
		Messages map[string]*jsonschema.Schema `json:"messages"`
	}{Ver: Version, Messages: schemas}
	return json.Marshal(doc)
}

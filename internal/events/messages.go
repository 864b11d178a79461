// Package events implements the WebSocket event feed from the Atelier
// backend: the typed message envelope and a reconnecting subscriber that
// delivers decoded lifecycle events to a handler.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/atelier-chat/atelier/internal/engine"
)

// Event type tags carried in the envelope.
const (
	TypeRunStarted = "run_started"
	TypeMessage    = "message"
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
	TypeThought    = "thought"
	TypeCompact    = "compact"
	TypeError      = "error"
	TypeComplete   = "complete"
)

// WSMessage is the wire envelope for one pushed event. Type selects the
// payload shape carried in Data.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the envelope payload into the typed lifecycle event
// matching its tag.
func Decode(msg WSMessage) (engine.Event, error) {
	switch msg.Type {
	case TypeRunStarted:
		var ev engine.RunStartedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		return ev, nil
	case TypeMessage:
		var ev engine.MessageEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		return ev, nil
	case TypeToolCall:
		var ev engine.ToolCallEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		return ev, nil
	case TypeToolResult:
		var ev engine.ToolResultEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		return ev, nil
	case TypeThought:
		var ev engine.ThoughtEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		return ev, nil
	case TypeCompact:
		var ev engine.CompactEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		return ev, nil
	case TypeError:
		var ev engine.ErrorEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		return ev, nil
	case TypeComplete:
		var ev engine.CompleteEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	}
}

package events

import (
	"encoding/json"
	"testing"

	"github.com/atelier-chat/atelier/internal/engine"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		msg     WSMessage
		check   func(t *testing.T, ev engine.Event)
		wantErr bool
	}{
		{
			name: "run_started",
			msg: WSMessage{Type: TypeRunStarted,
				Data: json.RawMessage(`{"space_id":"s1","conversation_id":"c1","run_id":"r1"}`)},
			check: func(t *testing.T, ev engine.Event) {
				if _, ok := ev.(engine.RunStartedEvent); !ok {
					t.Errorf("type = %T", ev)
				}
				if ev.RunID() != "r1" {
					t.Errorf("run = %q", ev.RunID())
				}
			},
		},
		{
			name: "message delta",
			msg: WSMessage{Type: TypeMessage,
				Data: json.RawMessage(`{"space_id":"s1","conversation_id":"c1","run_id":"r1","content":"hi","delta":true}`)},
			check: func(t *testing.T, ev engine.Event) {
				m, ok := ev.(engine.MessageEvent)
				if !ok {
					t.Fatalf("type = %T", ev)
				}
				if m.Content != "hi" || !m.Delta {
					t.Errorf("event = %+v", m)
				}
			},
		},
		{
			name: "tool_call",
			msg: WSMessage{Type: TypeToolCall,
				Data: json.RawMessage(`{"conversation_id":"c1","tool_call_id":"t1","name":"Bash","requires_approval":true}`)},
			check: func(t *testing.T, ev engine.Event) {
				tc, ok := ev.(engine.ToolCallEvent)
				if !ok {
					t.Fatalf("type = %T", ev)
				}
				if tc.ToolCallID != "t1" || !tc.RequiresApproval {
					t.Errorf("event = %+v", tc)
				}
			},
		},
		{
			name: "tool_result error",
			msg: WSMessage{Type: TypeToolResult,
				Data: json.RawMessage(`{"conversation_id":"c1","tool_call_id":"t1","result":"boom","is_error":true}`)},
			check: func(t *testing.T, ev engine.Event) {
				tr, ok := ev.(engine.ToolResultEvent)
				if !ok {
					t.Fatalf("type = %T", ev)
				}
				if !tr.IsError {
					t.Error("IsError should be set")
				}
			},
		},
		{
			name: "complete",
			msg: WSMessage{Type: TypeComplete,
				Data: json.RawMessage(`{"conversation_id":"c1","run_id":"r1","reason":"completed","final_content":"done"}`)},
			check: func(t *testing.T, ev engine.Event) {
				c, ok := ev.(engine.CompleteEvent)
				if !ok {
					t.Fatalf("type = %T", ev)
				}
				if c.Reason != engine.CompleteReasonCompleted || c.FinalContent != "done" {
					t.Errorf("event = %+v", c)
				}
			},
		},
		{
			name: "compact",
			msg: WSMessage{Type: TypeCompact,
				Data: json.RawMessage(`{"conversation_id":"c1","trigger":"auto","pre_tokens":120000}`)},
			check: func(t *testing.T, ev engine.Event) {
				c, ok := ev.(engine.CompactEvent)
				if !ok {
					t.Fatalf("type = %T", ev)
				}
				if c.PreTokens != 120000 {
					t.Errorf("event = %+v", c)
				}
			},
		},
		{
			name:    "unknown type",
			msg:     WSMessage{Type: "mystery", Data: json.RawMessage(`{}`)},
			wantErr: true,
		},
		{
			name:    "malformed payload",
			msg:     WSMessage{Type: TypeMessage, Data: json.RawMessage(`{"content":`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.msg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			tt.check(t, ev)
		})
	}
}

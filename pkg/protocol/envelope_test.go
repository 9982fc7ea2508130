package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecode_SubmitMove(t *testing.T) {
	raw := []byte(`{"type":"submitMove","id":"7","payload":{"roomId":"r1","move":{"from":"e2","to":"e4","promotion":"q"}}}`)
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeSubmitMove || env.ID != "7" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var req SubmitMoveRequest
	if err := DecodePayload(env, &req); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if req.RoomID != "r1" || req.Move.From != "e2" || req.Move.To != "e4" || req.Move.Promotion != "q" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Move.Empty() {
		t.Fatalf("move should not be empty")
	}
}

func TestDecode_Rejects(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"  "}`)); err == nil {
		t.Fatalf("expected error for blank type")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed frame")
	}
}

func TestEncode_DrawHasNullWinner(t *testing.T) {
	b, err := Encode(TypeGameOver, "", GameOver{Reason: "stalemate"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var probe struct {
		Type    string                     `json:"type"`
		Payload map[string]json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if probe.Type != TypeGameOver {
		t.Fatalf("type = %q", probe.Type)
	}
	if string(probe.Payload["winner"]) != "null" {
		t.Fatalf("winner = %s, want null", probe.Payload["winner"])
	}
}

func TestEncode_DirectoryIsBareArray(t *testing.T) {
	b := MustEncode(TypeDirectoryUpdate, "", []string{"a", "b"})
	if string(b) != `{"type":"directoryUpdate","payload":["a","b"]}` {
		t.Fatalf("unexpected frame: %s", b)
	}
}

package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeJoin(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"join","room_key":"demo"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != KindJoin {
		t.Fatalf("kind = %q, want %q", msg.Kind, KindJoin)
	}
	if msg.RoomKey != "demo" {
		t.Fatalf("room key = %q, want demo", msg.RoomKey)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for truncated frame")
	}
	if _, err := Decode([]byte(`[1,2,3]`)); err == nil {
		t.Fatal("expected error for non-object frame")
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	// Unknown kinds must decode cleanly; dropping them is the dispatcher's
	// job, not the parser's.
	msg, err := Decode([]byte(`{"type":"future_thing","id":"abc"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != Kind("future_thing") {
		t.Fatalf("kind = %q", msg.Kind)
	}
}

func TestZeroFieldsOmitted(t *testing.T) {
	data, err := json.Marshal(&Message{Kind: KindList})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"type":"list"}` {
		t.Fatalf("wire form = %s", data)
	}
}

func TestRevisionRoundTrip(t *testing.T) {
	data, err := json.Marshal(&Message{Kind: KindStateRev, Revision: NewRevision(7)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Revision == nil || *msg.Revision != 7 {
		t.Fatalf("revision = %v, want 7", msg.Revision)
	}

	// A state response for an empty room carries no revision at all, which
	// is distinct from revision zero.
	msg, err = Decode([]byte(`{"type":"state","absent":true}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Revision != nil {
		t.Fatalf("revision = %v, want nil", msg.Revision)
	}
	if !msg.Absent {
		t.Fatal("absent flag lost")
	}
}

func TestDecodeSignal(t *testing.T) {
	p, err := DecodeSignal(json.RawMessage(`{"type":"offer","sdp":"v=0"}`))
	if err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if p.Type != "offer" || p.SDP != "v=0" {
		t.Fatalf("payload = %+v", p)
	}

	p, err = DecodeSignal(json.RawMessage(`{"candidate":{"candidate":"candidate:1 1 udp"}}`))
	if err != nil {
		t.Fatalf("decode candidate: %v", err)
	}
	if p.SDP != "" || len(p.Candidate) == 0 {
		t.Fatalf("payload = %+v", p)
	}
}

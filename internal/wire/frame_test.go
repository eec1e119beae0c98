package wire

import (
	"encoding/json"
	"testing"
)

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindText, KindAttachment} {
		data, err := json.Marshal(k)
		if err != nil {
			t.Fatalf("marshal %v: %v", k, err)
		}
		var got Kind
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got != k {
			t.Errorf("round trip %v -> %v", k, got)
		}
	}
}

func TestUnknownKindDecodesWithoutError(t *testing.T) {
	// A new server-side kind must not fail the frame decode and take the
	// whole channel down with it.
	var k Kind
	if err := json.Unmarshal([]byte(`"sticker"`), &k); err != nil {
		t.Fatal(err)
	}
	if k != KindUnknown {
		t.Errorf("kind = %v, want KindUnknown", k)
	}

	raw := `{"type":"message-received","conversationId":"c1","message":{"id":"m1","senderId":"u2","kind":"sticker","createdAt":1700000000000}}`
	var f Frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatal(err)
	}
	if f.Message == nil || f.Message.Kind != KindUnknown {
		t.Errorf("message = %+v", f.Message)
	}
}

func TestMessagePayload(t *testing.T) {
	text := Message{Kind: KindText, Text: "hello", AttachmentRef: "ignored"}
	if got := text.Payload(); got != "hello" {
		t.Errorf("text payload = %q, want hello", got)
	}
	att := Message{Kind: KindAttachment, Text: "ignored", AttachmentRef: "u/1/img.png"}
	if got := att.Payload(); got != "u/1/img.png" {
		t.Errorf("attachment payload = %q, want u/1/img.png", got)
	}
}

func TestFrameDecodesInboundMessage(t *testing.T) {
	raw := `{"type":"message-received","conversationId":"c1","message":{"id":"m1","conversationId":"c1","senderId":"u2","kind":"attachment","attachmentRef":"u/2/a.jpg","createdAt":1700000000000}}`
	var f Frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatal(err)
	}
	if f.Type != EventMessage {
		t.Errorf("type = %q", f.Type)
	}
	if f.Message == nil || f.Message.Kind != KindAttachment || f.Message.AttachmentRef != "u/2/a.jpg" {
		t.Errorf("message not decoded: %+v", f.Message)
	}
}

func TestTypingFrames(t *testing.T) {
	start := Typing("c1", "u1", true)
	if start.Type != CmdTypingStart || start.ConversationID != "c1" || start.SenderID != "u1" {
		t.Errorf("start frame = %+v", start)
	}
	stop := Typing("c1", "u1", false)
	if stop.Type != CmdTypingStop {
		t.Errorf("stop frame type = %q", stop.Type)
	}
}

package feed

import (
	"testing"
	"time"

	"airwatch/song"
)

type testMessage struct {
	topic   string
	payload []byte
}

func (m testMessage) Duplicate() bool   { return false }
func (m testMessage) Qos() byte         { return 0 }
func (m testMessage) Retained() bool    { return false }
func (m testMessage) Topic() string     { return m.topic }
func (m testMessage) MessageID() uint16 { return 0 }
func (m testMessage) Payload() []byte   { return m.payload }
func (m testMessage) Ack()              {}

func TestMessageHandlerDeliversRemoteCapture(t *testing.T) {
	client := NewClient("localhost", 1883, "box-a", "")

	payload, err := json.Marshal(envelope{
		Origin: "box-b",
		Song: &song.CapturedSong{
			Title:       "Evidências",
			Artist:      "Chitãozinho & Xororó",
			StationName: "FM Sertaneja",
			Timestamp:   time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	client.messageHandler(nil, testMessage{topic: "airwatch/captured/fm_sertaneja", payload: payload})

	select {
	case cs := <-client.Captures():
		if cs.Source != song.SourceFeed {
			t.Fatalf("expected remote capture tagged as feed source, got %s", cs.Source)
		}
		if cs.Artist != "Chitãozinho & Xororó" {
			t.Fatalf("unexpected artist %q", cs.Artist)
		}
	default:
		t.Fatal("expected remote capture on channel")
	}
}

func TestMessageHandlerSuppressesOwnOrigin(t *testing.T) {
	client := NewClient("localhost", 1883, "box-a", "")

	payload, err := json.Marshal(envelope{
		Origin: "box-a",
		Song:   &song.CapturedSong{Title: "T", Artist: "A", StationName: "X"},
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	client.messageHandler(nil, testMessage{payload: payload})

	select {
	case <-client.Captures():
		t.Fatal("own publish must not loop back into the capture channel")
	default:
	}
}

func TestMessageHandlerIgnoresGarbage(t *testing.T) {
	client := NewClient("localhost", 1883, "box-a", "")
	client.messageHandler(nil, testMessage{payload: []byte("not json")})
	select {
	case <-client.Captures():
		t.Fatal("garbage payload must not produce a capture")
	default:
	}
}

func TestSanitizeTopic(t *testing.T) {
	cases := map[string]string{
		"FM Sertaneja":  "fm_sertaneja",
		"Rock/Pop 94.7": "rock_pop_94.7",
		"  ":            "unknown",
		"A+B#C":         "a_b_c",
	}
	for in, want := range cases {
		if got := sanitizeTopic(in); got != want {
			t.Fatalf("sanitizeTopic(%q) = %q, want %q", in, got, want)
		}
	}
}

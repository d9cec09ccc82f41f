package rotation

import (
	"testing"

	"airwatch/config"
)

func TestConfigSourceMembership(t *testing.T) {
	src := NewConfigSource([]config.StationConfig{
		{Name: "FM Sertaneja", Enabled: true, InRotation: true},
		{Name: "Rock 94", Enabled: true, InRotation: false},
		{Name: "Pagode FM", Enabled: false, InRotation: true},
	})

	if !src.Contains("FM Sertaneja") {
		t.Fatal("expected enabled in_rotation station to be a member")
	}
	if !src.Contains("  fm sertaneja  ") {
		t.Fatal("expected membership check to ignore case and padding")
	}
	if src.Contains("Rock 94") {
		t.Fatal("station not flagged in_rotation must not be a member")
	}
	if src.Contains("Pagode FM") {
		t.Fatal("disabled station must not be a member even when flagged")
	}
}

func TestConfigSourceUpdateReplacesSet(t *testing.T) {
	src := NewConfigSource([]config.StationConfig{
		{Name: "FM Sertaneja", Enabled: true, InRotation: true},
	})
	src.Update([]config.StationConfig{
		{Name: "Pagode FM", Enabled: true, InRotation: true},
	})

	if src.Contains("FM Sertaneja") {
		t.Fatal("old member must be gone after update")
	}
	if !src.Contains("Pagode FM") {
		t.Fatal("new member missing after update")
	}
	if got := len(src.Stations()); got != 1 {
		t.Fatalf("expected 1 member, got %d", got)
	}
}

package auth

import (
	"testing"
	"time"
)

func TestGenerateSessionID(t *testing.T) {
	t.Run("returns 16-char hex string", func(t *testing.T) {
		id, err := GenerateSessionID()
		if err != nil {
			t.Fatalf("GenerateSessionID failed: %v", err)
		}
		if len(id) != 16 {
			t.Errorf("expected 16 chars, got %d", len(id))
		}
	})

	t.Run("IDs are unique", func(t *testing.T) {
		id1, _ := GenerateSessionID()
		id2, _ := GenerateSessionID()
		if id1 == id2 {
			t.Error("two generated session IDs should not be identical")
		}
	})
}

func TestSessionRegistryIssueAndLookup(t *testing.T) {
	reg := NewSessionRegistry()
	exp := time.Now().Add(time.Hour)

	id, err := reg.Issue("u1", "device-1", exp)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	s, ok := reg.Lookup(id)
	if !ok {
		t.Fatal("expected session to be found")
	}
	if s.UserID != "u1" || s.DeviceID != "device-1" {
		t.Errorf("unexpected session contents: %+v", s)
	}
	if s.Revoked {
		t.Error("freshly issued session should not be revoked")
	}
}

func TestSessionRegistryIsValid(t *testing.T) {
	reg := NewSessionRegistry()
	now := time.Now()

	t.Run("unknown id is invalid", func(t *testing.T) {
		if reg.IsValid("nonexistent", now) {
			t.Error("expected unknown session ID to be invalid")
		}
	})

	t.Run("fresh session is valid", func(t *testing.T) {
		id, _ := reg.Issue("u1", "", now.Add(time.Hour))
		if !reg.IsValid(id, now) {
			t.Error("expected fresh session to be valid")
		}
	})

	t.Run("expired session is invalid", func(t *testing.T) {
		id, _ := reg.Issue("u1", "", now.Add(-time.Minute))
		if reg.IsValid(id, now) {
			t.Error("expected expired session to be invalid")
		}
	})

	t.Run("revoked session is invalid", func(t *testing.T) {
		id, _ := reg.Issue("u1", "", now.Add(time.Hour))
		reg.Revoke(id)
		if reg.IsValid(id, now) {
			t.Error("expected revoked session to be invalid")
		}
	})
}

func TestSessionRegistryRevokeAllForUser(t *testing.T) {
	reg := NewSessionRegistry()
	now := time.Now()
	exp := now.Add(time.Hour)

	id1, _ := reg.Issue("u1", "device-a", exp)
	id2, _ := reg.Issue("u1", "device-b", exp)
	id3, _ := reg.Issue("u2", "device-c", exp)

	reg.RevokeAllForUser("u1")

	if reg.IsValid(id1, now) || reg.IsValid(id2, now) {
		t.Error("expected all of u1's sessions to be revoked")
	}
	if !reg.IsValid(id3, now) {
		t.Error("u2's session should be unaffected")
	}
}

func TestSessionRegistrySweep(t *testing.T) {
	reg := NewSessionRegistry()
	now := time.Now()

	liveID, _ := reg.Issue("u1", "", now.Add(time.Hour))
	expiredID, _ := reg.Issue("u2", "", now.Add(-time.Minute))
	revokedID, _ := reg.Issue("u3", "", now.Add(time.Hour))
	reg.Revoke(revokedID)

	removed := reg.Sweep(now)
	if removed != 2 {
		t.Errorf("expected 2 entries removed, got %d", removed)
	}

	if _, ok := reg.Lookup(liveID); !ok {
		t.Error("live session should survive sweep")
	}
	if _, ok := reg.Lookup(expiredID); ok {
		t.Error("expired session should be swept")
	}
	if _, ok := reg.Lookup(revokedID); ok {
		t.Error("revoked session should be swept")
	}
}

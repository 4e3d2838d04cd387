package refresh

import (
	"errors"
	"strings"
	"testing"
)

func TestKeysRoundTrip(t *testing.T) {
	k := Keys{Namespace: "svc"}
	hash := HashToken("tok")

	key, err := k.Record("alice", hash)
	if err != nil {
		t.Fatalf("record key failed: %v", err)
	}
	if key != "svc:refresh-token:{alice}:"+hash {
		t.Fatalf("unexpected key %q", key)
	}
	user, gotHash, ok := k.ParseRecordKey(key)
	if !ok || user != "alice" || gotHash != hash {
		t.Fatalf("parse returned %q %q %v", user, gotHash, ok)
	}

	set, err := k.SessionSet("alice")
	if err != nil || set != "svc:session-set:{alice}" {
		t.Fatalf("unexpected session set key %q (%v)", set, err)
	}

	if _, _, ok := (Keys{}).ParseRecordKey(key); ok {
		t.Fatal("key from another namespace must not parse")
	}
}

func TestValidateUserIDRejectsReservedCharacters(t *testing.T) {
	bad := []string{"", "a:b", "a*", "a?", "a[b]", "{a}", "a b", "a\\b", "a\x00", strings.Repeat("x", 256)}
	for _, id := range bad {
		if err := ValidateUserID(id); !errors.Is(err, ErrInvalidUser) {
			t.Fatalf("expected %q to be rejected, got %v", id, err)
		}
	}
	for _, id := range []string{"alice", "user-42", "7f1c0e2a-uuid", "a.b@example.com"} {
		if err := ValidateUserID(id); err != nil {
			t.Fatalf("expected %q to be accepted, got %v", id, err)
		}
	}
}

func TestRecordKeyRejectsMalformedHash(t *testing.T) {
	if _, err := (Keys{}).Record("alice", "not-a-hash"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRecordIDDeterministic(t *testing.T) {
	h := HashToken("tok")
	if RecordID("alice", h) != RecordID("alice", h) {
		t.Fatal("record id must be deterministic")
	}
	if RecordID("alice", h) == RecordID("bob", h) {
		t.Fatal("record id must depend on user")
	}
}

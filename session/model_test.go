package session

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func testSession() *Session {
	return &Session{
		Token:      "tok-1",
		UserID:     "42",
		Role:       "user",
		ClientIP:   "1.2.3.4",
		ExpireDate: time.Unix(1700000000, 250_000_000),
	}
}

func TestRenewStrictlyIncreases(t *testing.T) {
	s := testSession()
	now := s.ExpireDate.Add(-10 * time.Minute)

	prev := s.ExpireDate
	s.Renew(now, 30*time.Minute)
	if !s.ExpireDate.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("expected now+ttl, got %v", s.ExpireDate)
	}
	if !s.ExpireDate.After(prev) {
		t.Fatal("renew must move expiry forward")
	}

	// A clock behind the stored expiry must not pull it back.
	prev = s.ExpireDate
	s.Renew(now.Add(-time.Hour), 30*time.Minute)
	if !s.ExpireDate.After(prev) {
		t.Fatalf("renew decreased expiry: %v -> %v", prev, s.ExpireDate)
	}
}

func TestExpiredBoundary(t *testing.T) {
	s := testSession()

	if s.Expired(s.ExpireDate.Add(-time.Nanosecond)) {
		t.Fatal("not yet expired")
	}
	if !s.Expired(s.ExpireDate) {
		t.Fatal("expiry at now counts as expired")
	}
}

func TestSessionJSONShape(t *testing.T) {
	raw, err := json.Marshal(testSession())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal map: %v", err)
	}
	for _, k := range []string{"userID", "userRole", "clientIP", "expireDate", "sessionToken"} {
		if _, ok := fields[k]; !ok {
			t.Fatalf("missing field %q in %s", k, raw)
		}
	}
	if got := fields["expireDate"].(float64); got != 1700000000.25 {
		t.Fatalf("expected epoch seconds, got %v", got)
	}

	var back Session
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Token != "tok-1" || back.Role != "user" || !back.ExpireDate.Equal(testSession().ExpireDate) {
		t.Fatalf("unexpected decoded session %+v", back)
	}
}

func TestEncodeDecode(t *testing.T) {
	in := testSession()
	in.ExpireDate = time.Unix(0, in.ExpireDate.UnixNano()+7)

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if data[0] != sessionFormatVersionCurrent {
		t.Fatalf("expected version byte %d, got %d", sessionFormatVersionCurrent, data[0])
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Token != in.Token || !out.ExpireDate.Equal(in.ExpireDate) {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
	if out.UserID != in.UserID || out.Role != in.Role || out.ClientIP != in.ClientIP {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestEncodeRejectsOversizedFields(t *testing.T) {
	s := testSession()
	s.Role = string(bytes.Repeat([]byte("r"), 256))

	if _, err := Encode(s); err == nil {
		t.Fatal("expected error for oversized role")
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	good, err := Encode(testSession())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cases := map[string][]byte{
		"empty":     {},
		"version":   append([]byte{9}, good[1:]...),
		"truncated": good[:len(good)-3],
		"trailing":  append(append([]byte{}, good...), 0),
	}
	for name, data := range cases {
		if _, err := Decode(data); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func FuzzSessionDecode(f *testing.F) {
	if encoded, err := Encode(testSession()); err == nil {
		f.Add(encoded)
		f.Add(encoded[:10])
	}
	f.Add([]byte{})
	f.Add([]byte{1})
	f.Add([]byte{255, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Decode(data)
		if err != nil {
			return
		}
		if _, err := Encode(s); err != nil {
			t.Fatalf("re-encode of decoded record failed: %v", err)
		}
	})
}

package signaling

import (
	"errors"
	"testing"
)

func FuzzParseInbound(f *testing.F) {
	f.Add([]byte(`{"type":"register","role":"monitor"}`))
	f.Add([]byte(`{"type":"offer","targetId":"x","offer":{}}`))
	f.Add([]byte(`{"type":"ice-candidate","candidate":null}`))
	f.Add([]byte(`{"type":"register","role":1}`))
	f.Add([]byte(``))

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := ParseInbound(data)
		if err != nil {
			if !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("err=%v, want ErrMalformedMessage", err)
			}
			return
		}
		if reg, ok := msg.(RegisterMessage); ok && !reg.Role.Valid() {
			t.Fatalf("accepted register with role %q", reg.Role)
		}
	})
}

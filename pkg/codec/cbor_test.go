package codec

import (
	"bytes"
	"testing"
	"time"
)

func TestMarshalDeterministic(t *testing.T) {
	a := map[string]any{"model": "gpt-4o", "temperature": 0.2, "max_tokens": 256}
	b := map[string]any{"max_tokens": 256, "temperature": 0.2, "model": "gpt-4o"}

	for i := 0; i < 10; i++ {
		ea, err := Marshal(a)
		if err != nil {
			t.Fatal(err)
		}
		eb, err := Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(ea, eb) {
			t.Fatalf("encoding depends on map insertion order:\n%x\n%x", ea, eb)
		}
	}
}

func TestRoundTripStruct(t *testing.T) {
	type sample struct {
		Name    string    `cbor:"name"`
		Count   int       `cbor:"count"`
		Created time.Time `cbor:"created"`
	}
	in := sample{Name: "entry", Count: 3, Created: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)}

	data, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Name != in.Name || out.Count != in.Count || !out.Created.Equal(in.Created) {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestUnmarshalAnyUsesStringMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"k": map[string]any{"nested": true}})
	if err != nil {
		t.Fatal(err)
	}
	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", out)
	}
	if _, ok := m["k"].(map[string]any); !ok {
		t.Errorf("expected nested map[string]any, got %T", m["k"])
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	var out map[string]any
	if err := Unmarshal([]byte{0xff, 0x00, 0x13}, &out); err == nil {
		t.Error("expected error decoding garbage")
	}
}

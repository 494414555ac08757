package codec

import "testing"

func TestNaiveCodecMemoKeyDeterministic(t *testing.T) {
	c := NaiveCodec{}
	args, err := c.Marshal(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	k1, err := c.MemoKey("f", args)
	if err != nil {
		t.Fatalf("memo key: %v", err)
	}
	k2, err := c.MemoKey("f", args)
	if err != nil {
		t.Fatalf("memo key: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected deterministic memo key, got %q and %q", k1, k2)
	}
}

func TestNaiveCodecMemoKeyOrderIndependent(t *testing.T) {
	c := NaiveCodec{}
	a1, _ := c.Marshal(map[string]any{"a": 1, "b": 2})
	a2, _ := c.Marshal(map[string]any{"b": 2, "a": 1})

	k1, err := c.MemoKey("f", a1)
	if err != nil {
		t.Fatalf("memo key: %v", err)
	}
	k2, err := c.MemoKey("f", a2)
	if err != nil {
		t.Fatalf("memo key: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected named-parameter order independence, got %q != %q", k1, k2)
	}
}

func TestNaiveCodecMemoKeyNumberNormalization(t *testing.T) {
	c := NaiveCodec{}
	k1, err := c.MemoKey("f", []byte(`{"n": 2}`))
	if err != nil {
		t.Fatalf("memo key: %v", err)
	}
	k2, err := c.MemoKey("f", []byte(`{"n": 2.0}`))
	if err != nil {
		t.Fatalf("memo key: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected 2 and 2.0 to normalize identically, got %q != %q", k1, k2)
	}
}

func TestNaiveCodecMemoKeyDistinguishesTaskName(t *testing.T) {
	c := NaiveCodec{}
	args, _ := c.Marshal(map[string]any{"a": 1})
	k1, err := c.MemoKey("f", args)
	if err != nil {
		t.Fatalf("memo key: %v", err)
	}
	k2, err := c.MemoKey("g", args)
	if err != nil {
		t.Fatalf("memo key: %v", err)
	}
	if k1 == k2 {
		t.Fatalf("expected different task names to produce different memo keys")
	}
}

func TestNaiveCodecMemoKeyNoSlash(t *testing.T) {
	c := NaiveCodec{}
	args, _ := c.Marshal([]any{"has/slash", 1})
	k, err := c.MemoKey("f", args)
	if err != nil {
		t.Fatalf("memo key: %v", err)
	}
	for _, r := range k {
		if r == '/' {
			t.Fatalf("memo key must never contain '/', got %q", k)
		}
	}
}

func TestNaiveCodecRoundTrip(t *testing.T) {
	c := NaiveCodec{}
	type payload struct {
		N int    `json:"n"`
		S string `json:"s"`
	}
	in := payload{N: 7, S: "hi"}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out payload
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

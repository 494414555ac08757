// Package codec derives deterministic memoization identity for calls and
// converts task arguments and return values to and from the bytes that
// travel through the store and the queue.
//
// Ordering of named parameters, map keys, and numeric normalization must be
// canonical: two logically identical calls must always produce the same
// memo key, in every process, forever.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Call is the identity of a single task invocation: the task name together
// with its encoded arguments and the memo key derived from both.
type Call struct {
	TaskName string
	Args     []byte
	MemoKey  string
}

// Codec derives memo keys and marshals/unmarshals the values that pass
// through the store. Implementations must be deterministic across
// processes: given the same logical inputs, every worker must derive the
// same memo key.
type Codec interface {
	// MemoKey derives the memoization identity for a call from its task
	// name and already-marshaled argument bytes, canonicalizing them so
	// that key order and number spelling do not affect the result.
	MemoKey(taskName string, argsJSON []byte) (string, error)

	// Marshal encodes a value (arguments or a return value) to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes bytes produced by Marshal back into v.
	Unmarshal(data []byte, v any) error
}

// NaiveCodec is the default codec: the memo key is the UTF-8 encoding of
// canonical JSON `[taskName, args]`, hashed to a fixed-width hex string so
// it never contains "/" and is safe to embed in queue message bodies and
// store keys.
//
// encoding/json already emits object keys in sorted order, which handles
// named-parameter and map-key ordering. Number normalization is handled by
// round-tripping through `any`: every JSON number, however it was typed on
// the way in, comes back out as a float64 and is re-marshaled the same way,
// so `2` and `2.0` always produce identical bytes.
type NaiveCodec struct{}

// MemoKey implements Codec.
func (NaiveCodec) MemoKey(taskName string, argsJSON []byte) (string, error) {
	canon, err := canonicalizeJSON(argsJSON)
	if err != nil {
		return "", err
	}
	envelope, err := json.Marshal([2]json.RawMessage{
		mustMarshalString(taskName), canon,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(envelope)
	return hex.EncodeToString(sum[:]), nil
}

// Marshal implements Codec using encoding/json.
func (NaiveCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Codec using encoding/json.
func (NaiveCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func mustMarshalString(s string) json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		// json.Marshal on a string cannot fail.
		panic(err)
	}
	return b
}

// canonicalizeJSON normalizes a JSON document so that structurally equal
// values always produce byte-identical output, regardless of the original
// key order or number representation.
func canonicalizeJSON(raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("null")
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	normalized := normalizeNumbers(v)
	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeNumbers walks a decoded JSON value (as produced by a decoder
// with UseNumber) and converts every json.Number to float64, so that "2"
// and "2.0" collapse to the same in-memory representation before
// re-marshaling.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalizeNumbers(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeNumbers(vv)
		}
		return out
	default:
		return v
	}
}

// Package codec centralizes cached-value encoding.
//
// Every typed view over the cache resolves its codec at construction time:
// values are serialized before they enter the store and deserialized on the
// way out. Cachego intentionally treats codec selection as a compatibility
// boundary: two processes sharing a broadcast channel must agree on the codec
// used for a namespace, otherwise consistency digests will disagree on
// byte-identical values.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is the codec used when none is configured.
var Default Codec = JSON{}

// ByName returns a built-in codec by its stable name.
//
// Entry metadata records the codec name so that audits can flag namespaces
// whose processes disagree on serialization.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal is a helper for internal tests/benchmarks.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}

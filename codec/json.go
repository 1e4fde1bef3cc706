package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Notes:
//   - For typical structs/maps/slices this is the most portable option.
//   - Funcs, channels and complex numbers are not supported.
//   - Cached bytes always pass through the compressor after marshaling, so
//     codec output size only matters for the compression benefit check.
//
// If you need custom encoding (e.g. protobuf/msgpack), implement Codec and
// pass it when constructing a typed view.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

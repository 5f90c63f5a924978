// Package codec (de)serializes values at the backend boundary. The write
// path encodes once per commit, not per Update, so codec cost is off the
// hot path.
package codec

// Codec encodes/decodes values V to []byte for backend storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

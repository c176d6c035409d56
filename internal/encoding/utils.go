// Package encoding converts vectors and metadata to the column formats used
// by the SQLite snapshot backend.
package encoding

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when a vector is invalid
var ErrInvalidVector = errors.New("invalid vector")

// maxVectorLen bounds the int32 length prefix.
const maxVectorLen = math.MaxInt32

// EncodeVector encodes a float32 vector as a little-endian int32 length
// followed by the IEEE 754 bits of each element.
func EncodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}
	if len(vector) > maxVectorLen {
		return nil, fmt.Errorf("vector too large: %d elements exceeds maximum", len(vector))
	}

	buf := make([]byte, 4+4*len(vector))
	binary.LittleEndian.PutUint32(buf, uint32(len(vector)))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf, nil
}

// DecodeVector decodes bytes written by EncodeVector
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}
	n := int32(binary.LittleEndian.Uint32(data))
	if n < 0 {
		return nil, ErrInvalidVector
	}
	if len(data)-4 < int(n)*4 {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrInvalidVector, int(n)*4, len(data)-4)
	}

	vector := make([]float32, n)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vector, nil
}

// EncodeMetadata encodes metadata to a JSON string. Nil encodes as "".
func EncodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

// DecodeMetadata decodes a JSON string written by EncodeMetadata
func DecodeMetadata(jsonStr string) (map[string]any, error) {
	if jsonStr == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return metadata, nil
}

// EncodeStrings encodes an id list to a JSON array.
func EncodeStrings(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to encode ids: %w", err)
	}
	return string(data), nil
}

// DecodeStrings decodes a JSON array written by EncodeStrings
func DecodeStrings(jsonStr string) ([]string, error) {
	ids := []string{}
	if jsonStr == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(jsonStr), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode ids: %w", err)
	}
	return ids, nil
}

// ValidateVector rejects empty vectors and vectors holding NaN or Inf.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for _, val := range vector {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidVector
		}
	}
	return nil
}

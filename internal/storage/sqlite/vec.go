package sqlite

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Embedding BLOB layout: a uint32 vector count, then for each vector a
// uint32 length followed by that many LittleEndian float32 values.

func serializeEmbeddings(vecs [][]float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(vecs))); err != nil {
		return nil, fmt.Errorf("failed to serialize vector count: %w", err)
	}
	for _, vec := range vecs {
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(vec))); err != nil {
			return nil, fmt.Errorf("failed to serialize vector length: %w", err)
		}
		if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("failed to serialize vector: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func deserializeEmbeddings(data []byte) ([][]float32, error) {
	buf := bytes.NewReader(data)

	var count uint32
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read vector count: %w", err)
	}

	vecs := make([][]float32, 0, count)
	for i := uint32(0); i < count; i++ {
		var length uint32
		if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("failed to read vector %d length: %w", i, err)
		}
		vec := make([]float32, length)
		if err := binary.Read(buf, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("failed to read vector %d: %w", i, err)
		}
		vecs = append(vecs, vec)
	}
	return vecs, nil
}

func serializeVector(vec []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(vec))); err != nil {
		return nil, fmt.Errorf("failed to serialize vector length: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("failed to serialize vector: %w", err)
	}
	return buf.Bytes(), nil
}

func deserializeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	buf := bytes.NewReader(data)

	var length uint32
	if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read vector length: %w", err)
	}
	vec := make([]float32, length)
	if err := binary.Read(buf, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("failed to read vector: %w", err)
	}
	return vec, nil
}

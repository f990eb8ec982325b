package recurrent

import (
	"crypto/sha256"
	"encoding/binary"
)

// deterministicMask builds a boolean connectivity mask of shape
// rows x cols with approximately density fraction of connections set,
// derived entirely from seed — two networks constructed with the same
// seed produce bit-identical topology. Grounded on the same
// SHA256-digest-reduced-mod-range technique the agent uses to derive a
// deterministic port number from stable inputs, generalized here to
// derive a per-edge keep/drop decision instead of a single integer.
func deterministicMask(seed string, rows, cols int, density float64) [][]bool {
	mask := make([][]bool, rows)
	for i := range mask {
		mask[i] = make([]bool, cols)
		for j := range mask[i] {
			mask[i][j] = edgeKept(seed, i, j, density)
		}
	}
	return mask
}

// edgeKept derives a stable pseudo-random decision for the (i,j) edge by
// hashing the seed concatenated with the edge coordinates, then comparing
// the low 32 bits of the digest against a density-scaled threshold.
func edgeKept(seed string, i, j int, density float64) bool {
	h := sha256.New()
	h.Write([]byte(seed))
	var coord [8]byte
	binary.LittleEndian.PutUint32(coord[0:4], uint32(i))
	binary.LittleEndian.PutUint32(coord[4:8], uint32(j))
	h.Write(coord[:])
	digest := h.Sum(nil)

	v := binary.LittleEndian.Uint32(digest[:4])
	threshold := uint32(density * float64(^uint32(0)))
	return v < threshold
}

package nonbonded

import "unsafe"

// Domain selects which command stream and pair-list instance an operation
// targets. Local always exists; NonLocal exists only when spatial
// decomposition is active (two-stream mode).
type Domain int

const (
	Local Domain = iota
	NonLocal

	domainCount
)

func (d Domain) String() string {
	switch d {
	case Local:
		return "local"
	case NonLocal:
		return "nonlocal"
	}
	return "unknown"
}

const (
	// ShiftCount is the number of periodic shift vectors (3x3x5 image
	// shifts of the triclinic box).
	ShiftCount = 45

	// ewaldTableSize is the resolution of the tabulated Ewald correction.
	ewaldTableSize = 1536

	// clearBlockSize is the work-group size of the buffer-clearing kernels.
	clearBlockSize = 64
)

// AtomData is the host-side per-step atom input.
type AtomData struct {
	// XQ packs position and charge, 4 floats per atom (x, y, z, q).
	XQ []float32

	// Types holds one interaction-type id per atom.
	Types []int32

	NumAtoms int
	NumLocal int // atoms [0, NumLocal) belong to the Local domain

	// ShiftVecs holds 3*ShiftCount floats of periodic shift vectors.
	ShiftVecs []float32

	// DynamicBox marks a simulation box that changes between steps, which
	// forces the shift vectors to be re-uploaded every step.
	DynamicBox bool
}

// SCIEntry is one outer-cluster entry of the pair list.
type SCIEntry struct {
	Sci         int32 // i-cluster index
	Shift       int32 // periodic shift index
	CJ4IndStart int32
	CJ4IndEnd   int32
}

// IMEntry is an interaction mask with its exclusion-table index.
type IMEntry struct {
	IMask   uint32
	ExclInd int32
}

// CJ4Entry groups four j-clusters with their interaction masks.
type CJ4Entry struct {
	CJ   [4]int32
	Imei [2]IMEntry
}

// ExclEntry is one block of pairwise exclusion bits.
type ExclEntry struct {
	Pair [32]uint32
}

// PairList is the host-side sparse cluster-pair list produced by the pair
// search for one domain.
type PairList struct {
	// ClusterSize is the number of atoms per cluster cell. Fixed for the
	// lifetime of the run.
	ClusterSize int

	SCI  []SCIEntry
	CJ4  []CJ4Entry
	Excl []ExclEntry
}

// asBytes reinterprets a slice of fixed-size elements as raw bytes for
// device transfer. The caller must keep v alive until the transfer event
// completes; queues stage a copy at enqueue time.
func asBytes[T any](v []T) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*int(unsafe.Sizeof(v[0])))
}

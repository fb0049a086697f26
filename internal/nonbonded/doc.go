// Package nonbonded manages the GPU-resident data structures driving the
// short-range nonbonded force computation of an MD step: device buffer
// lifecycle, atom data, interaction parameters with lazily built correction
// tables, per-domain pair lists, command-stream coordination and teardown.
//
// The package owns residency and dispatch plumbing only. The force-kernel
// mathematics, the pair-search algorithm that produces host-side lists, and
// the outer integration loop are external collaborators reached through the
// narrow types in this package and internal/device.
//
// Per step, the outer loop calls for each interaction domain:
//
//	UploadPairList   (pair-search steps only)
//	UploadPositions
//	ClearOutputs
//	<force kernel dispatch, external>
//	ReadOutputs
//
// with SetAtomData and InitConstants on atom-count and parameter changes.
// Release tears everything down in dependency order.
package nonbonded

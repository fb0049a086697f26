// Package device provides a minimal compute-device abstraction used by the
// nonbonded GPU core: device buffers, ordered command queues, kernels and
// completion events.
//
// Two backends are provided:
//
//   - host: a pure-Go backend that executes commands on a per-queue worker
//     goroutine. Commands are ordered within a queue and concurrent across
//     queues, matching the execution model of a real device. Used for tests
//     and for running on machines without a GPU.
//   - cuda: a CUDA driver backend loaded at runtime via purego (no cgo).
//     Built with the "cuda" build tag.
//
// Backend selection follows the same pattern as hardware probing elsewhere:
//
//	ctx, err := device.AutoSelect()
//
// picks CUDA when a device is present and falls back to host otherwise.
package device

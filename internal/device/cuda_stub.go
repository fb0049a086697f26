//go:build !cuda

package device

import "errors"

// newCUDAContext is overridden when building with the cuda tag.
func newCUDAContext() (Context, error) {
	return nil, errors.New("device: built without CUDA support")
}

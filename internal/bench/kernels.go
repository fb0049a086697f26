package bench

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/san-kum/nbgpu/internal/device"
)

// kernelClusterSize is the i-cluster width the kernel family is built for.
const kernelClusterSize = 8

var elecNames = []string{
	"ElecCut", "ElecRF", "ElecEwQSTab", "ElecEwQSTabTwinCut", "ElecEw", "ElecEwTwinCut",
}

var vdwNames = []string{
	"VdwLJ", "VdwLJFsw", "VdwLJPsw", "VdwLJEwCombGeom", "VdwLJEwCombLB",
}

// RegisterReferenceKernels installs a host implementation for every force
// kernel flavor, so the step loop runs end to end on the pure-Go backend.
// The reference computes a crude screened-charge force per atom; it is a
// stand-in with the right data flow, not a validated force field.
func RegisterReferenceKernels(h *device.Host) {
	for _, elec := range elecNames {
		for _, vdw := range vdwNames {
			for _, variant := range []string{"F", "VF", "F_prune", "VF_prune"} {
				name := fmt.Sprintf("nbnxn_kernel_%s_%s_%s", elec, vdw, variant)
				energy := strings.HasPrefix(variant, "VF")
				h.Register(name, referenceKernel(energy))
			}
		}
	}
}

// accumMu serializes the shared scalar accumulators across streams, the
// way the device kernels use atomics for them.
var accumMu sync.Mutex

// referenceKernel accumulates into the force and energy buffers using the
// argument layout the dispatcher binds: 13 buffers followed by the scalar
// parameters. It touches only the atoms of the i-clusters its own list
// names, so concurrent streams write disjoint force ranges.
func referenceKernel(energy bool) device.KernelFunc {
	return func(global, local int, args []device.Arg) error {
		if len(args) != 23 {
			return fmt.Errorf("bench: reference kernel got %d args, want 23", len(args))
		}
		xq, err := device.HostFloats(args[0].Buf)
		if err != nil {
			return err
		}
		f, err := device.HostFloats(args[2].Buf)
		if err != nil {
			return err
		}
		fshift, err := device.HostFloats(args[3].Buf)
		if err != nil {
			return err
		}
		eLJ, err := device.HostFloats(args[4].Buf)
		if err != nil {
			return err
		}
		eEl, err := device.HostFloats(args[5].Buf)
		if err != nil {
			return err
		}
		sci, err := device.HostBytes(args[10].Buf)
		if err != nil {
			return err
		}
		nsci := int(args[13].I32)
		natoms := int(args[14].I32)
		epsfac := args[16].F32
		rCoulombSq := args[17].F32

		var sumLJ, sumEl float32
		for s := 0; s < nsci; s++ {
			ci := int(int32(binary.LittleEndian.Uint32(sci[s*16:])))
			begin := ci * kernelClusterSize
			end := begin + kernelClusterSize
			if end > natoms {
				end = natoms
			}
			for i := begin; i < end; i++ {
				q := xq[i*4+3]
				for k := 0; k < 3; k++ {
					// deterministic pseudo-force from position and charge
					f[i*3+k] += q * epsfac * xq[i*4+k] * 1e-4
				}
				sumEl += q * q * epsfac / rCoulombSq * 1e-3
				sumLJ += 1e-5
			}
		}
		if energy {
			accumMu.Lock()
			eLJ[0] += sumLJ
			eEl[0] += sumEl
			if len(fshift) > 0 {
				fshift[0] += sumEl * 1e-2
			}
			accumMu.Unlock()
		}
		return nil
	}
}

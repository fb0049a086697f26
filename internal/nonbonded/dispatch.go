package nonbonded

import (
	"fmt"

	"github.com/san-kum/nbgpu/internal/device"
)

// kernelSet holds the bound kernel handles: the buffer-clearing utility
// kernels, and the 2x2 force-kernel table indexed by {energy, prune}. Force
// kernels are bound lazily on first selection since the flavor is not known
// until configure.
type kernelSet struct {
	memsetF     device.Kernel
	zeroEFShift device.Kernel
	force       [2][2]device.Kernel
}

func (ks *kernelSet) init(prog device.Program) error {
	var err error
	if ks.memsetF, err = prog.Kernel("memset_f"); err != nil {
		return err
	}
	if ks.zeroEFShift, err = prog.Kernel("zero_e_fshift"); err != nil {
		return err
	}
	return nil
}

// release frees the force-kernel table first, then the utility kernels.
func (ks *kernelSet) release() error {
	for i := range ks.force {
		for j, k := range ks.force[i] {
			if k == nil {
				continue
			}
			if err := k.Release(); err != nil {
				return err
			}
			ks.force[i][j] = nil
		}
	}
	for _, k := range []*device.Kernel{&ks.memsetF, &ks.zeroEFShift} {
		if *k == nil {
			continue
		}
		if err := (*k).Release(); err != nil {
			return err
		}
		*k = nil
	}
	return nil
}

// forceKernelName builds the canonical kernel name for a flavor/variant
// combination, e.g. "nbnxn_kernel_ElecEw_VdwLJ_F" or
// "nbnxn_kernel_ElecEwQSTab_VdwLJFsw_VF_prune".
func forceKernelName(elec elecKernel, vdw vdwKernel, energy, prune bool) string {
	variant := "F"
	if energy {
		variant = "VF"
	}
	if prune {
		variant += "_prune"
	}
	return fmt.Sprintf("nbnxn_kernel_%s_%s_%s", elec, vdw, variant)
}

// SelectForceKernel resolves the force kernel for the configured flavors
// and the requested {energy, prune} variant, binding it on first use. The
// launch itself is the caller's responsibility.
func (nb *Nonbonded) SelectForceKernel(energy, prune bool) (device.Kernel, error) {
	i, j := 0, 0
	if energy {
		i = 1
	}
	if prune {
		j = 1
	}
	if k := nb.kernels.force[i][j]; k != nil {
		return k, nil
	}
	name := forceKernelName(nb.params.elec, nb.params.vdw, energy, prune)
	k, err := nb.ctx.Program().Kernel(name)
	if err != nil {
		return nil, err
	}
	nb.kernels.force[i][j] = k
	return k, nil
}

// LaunchForceKernel enqueues the force kernel for one domain with the
// variant derived from the current state: energy accumulation on request,
// pruning when the domain's list is fresh. The kernel binds, in order: the
// xq, shift-vector, force, shift-force, energy, atom-type, nbfp, nbfp_comb
// and coulomb-table buffers, the three pair-list buffers, then the scalar
// parameters.
func (nb *Nonbonded) LaunchForceKernel(d Domain, energy bool) error {
	if nb.released {
		return ErrReleased
	}
	if err := nb.checkDomain(d); err != nil {
		return err
	}
	if nb.states[d] != stateReady {
		return fmt.Errorf("%w: no pair list uploaded for the %s domain", ErrNotReady, d)
	}
	pl := nb.plist[d]
	prune := pl.DoPrune()

	k, err := nb.SelectForceKernel(energy, prune)
	if err != nil {
		return err
	}

	// an empty list can occur with domain decomposition; nothing to launch
	// but the prune obligation is met
	if pl.sci.n == 0 {
		pl.PruneDone()
		return nil
	}

	coulombTab, _ := nb.params.CoulombTable()
	ev, err := nb.queues[d].Launch(k, roundUpGlobal(pl.sci.n), clearBlockSize,
		device.BufArg(nb.atdat.xq),
		device.BufArg(nb.atdat.shiftVec),
		device.BufArg(nb.atdat.f),
		device.BufArg(nb.atdat.fShift),
		device.BufArg(nb.atdat.eLJ),
		device.BufArg(nb.atdat.eEl),
		device.BufArg(nb.atdat.atomTypes),
		device.BufArg(nb.params.nbfp),
		device.BufArg(nb.params.nbfpComb),
		device.BufArg(coulombTab),
		device.BufArg(pl.sci.buf),
		device.BufArg(pl.cj4.buf),
		device.BufArg(pl.excl.buf),
		device.Int32Arg(int32(pl.sci.n)),
		device.Int32Arg(int32(nb.atdat.natoms)),
		device.Int32Arg(int32(nb.atdat.numTypes)),
		device.Float32Arg(nb.params.epsfac),
		device.Float32Arg(nb.params.rCoulombSq),
		device.Float32Arg(nb.params.rVdwSq),
		device.Float32Arg(nb.params.twoKRF),
		device.Float32Arg(nb.params.cRF),
		device.Float32Arg(nb.params.ewaldBeta),
		device.Float32Arg(float32(nb.params.coulombTabScale)))
	if err != nil {
		return err
	}

	if d == Local {
		nb.timings.CountStep()
	}
	if nb.doTime {
		nb.pending = append(nb.pending, pendingTiming{kind: pendKernel, energy: energy, prune: prune, ev: ev})
	}
	pl.PruneDone()
	return nil
}

// roundUpGlobal pads a flat work size to a multiple of the clear-kernel
// block size.
func roundUpGlobal(n int) int {
	g := (n / clearBlockSize) * clearBlockSize
	if n%clearBlockSize != 0 {
		g += clearBlockSize
	}
	return g
}

// clearF zeroes the first natoms entries of the force buffer. Runs on the
// local stream.
func (nb *Nonbonded) clearF(natoms int) error {
	natomsFlat := natoms * 3
	_, err := nb.queues[Local].Launch(nb.kernels.memsetF,
		roundUpGlobal(natomsFlat), clearBlockSize,
		device.BufArg(nb.atdat.f),
		device.Float32Arg(0),
		device.Uint32Arg(uint32(natomsFlat)))
	return err
}

// clearEFShift zeroes the per-shift force buffer and both energy
// accumulators.
func (nb *Nonbonded) clearEFShift() error {
	shifts := ShiftCount * 3
	_, err := nb.queues[Local].Launch(nb.kernels.zeroEFShift,
		roundUpGlobal(shifts), clearBlockSize,
		device.BufArg(nb.atdat.fShift),
		device.BufArg(nb.atdat.eLJ),
		device.BufArg(nb.atdat.eEl),
		device.Uint32Arg(uint32(shifts)))
	return err
}

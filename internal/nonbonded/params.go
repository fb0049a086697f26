package nonbonded

import (
	"fmt"
	"math"

	"github.com/san-kum/nbgpu/internal/config"
	"github.com/san-kum/nbgpu/internal/device"
	"github.com/san-kum/nbgpu/internal/ewald"
	"github.com/san-kum/nbgpu/internal/interaction"
)

// elecKernel is the electrostatics kernel family.
type elecKernel int

const (
	elecKernelCut elecKernel = iota
	elecKernelRF
	elecKernelEwaldTab
	elecKernelEwaldTabTwin
	elecKernelEwaldAna
	elecKernelEwaldAnaTwin
)

func (k elecKernel) String() string {
	switch k {
	case elecKernelCut:
		return "ElecCut"
	case elecKernelRF:
		return "ElecRF"
	case elecKernelEwaldTab:
		return "ElecEwQSTab"
	case elecKernelEwaldTabTwin:
		return "ElecEwQSTabTwinCut"
	case elecKernelEwaldAna:
		return "ElecEw"
	case elecKernelEwaldAnaTwin:
		return "ElecEwTwinCut"
	}
	return "ElecUnknown"
}

func (k elecKernel) tabulated() bool {
	return k == elecKernelEwaldTab || k == elecKernelEwaldTabTwin
}

func (k elecKernel) ewald() bool {
	return k >= elecKernelEwaldTab
}

// vdwKernel is the Van der Waals kernel family.
type vdwKernel int

const (
	vdwKernelCut vdwKernel = iota
	vdwKernelFSwitch
	vdwKernelPSwitch
	vdwKernelEwaldGeom
	vdwKernelEwaldLB
)

func (k vdwKernel) String() string {
	switch k {
	case vdwKernelCut:
		return "VdwLJ"
	case vdwKernelFSwitch:
		return "VdwLJFsw"
	case vdwKernelPSwitch:
		return "VdwLJPsw"
	case vdwKernelEwaldGeom:
		return "VdwLJEwCombGeom"
	case vdwKernelEwaldLB:
		return "VdwLJEwCombLB"
	}
	return "VdwUnknown"
}

// paramStore holds the device-visible nonbonded parameters: cutoff scalars,
// the selected kernel families and the read-only parameter tables.
type paramStore struct {
	elec elecKernel
	vdw  vdwKernel

	// cutoff scalars, copied verbatim from the interaction model each time
	// it changes
	epsfac, twoKRF, cRF         float32
	rVdwSq, rCoulombSq, rListSq float32
	ewaldBeta, shEwald          float32
	ewaldCoeffLJ, shLJEwald     float32
	rVdwSwitch                  float32
	dispersionShift             interaction.SwitchConsts
	repulsionShift              interaction.SwitchConsts
	vdwSwitch                   interaction.SwitchConsts

	// coulombTab is the tabulated Ewald correction. Once allocated, the
	// buffer identity is stable: refreshes rewrite contents in place.
	coulombTab      device.Buffer
	coulombTabSize  int
	coulombTabScale float64

	// coulombPlaceholder is a one-element buffer handed to dispatch when no
	// table is active, because kernel bindings require a live handle for
	// every parameter slot.
	coulombPlaceholder device.Buffer

	nbfp           device.Buffer // 2*ntypes^2 LJ C6/C12 parameters
	nbfpComb       device.Buffer // 2*ntypes combination-rule parameters
	nbfpCombActive bool
}

// setCutoffParameters copies all cutoff-related scalars from the model.
func (p *paramStore) setCutoffParameters(m *interaction.Model) {
	p.ewaldBeta = float32(m.EwaldBeta)
	p.shEwald = float32(m.ShEwald)
	p.epsfac = float32(m.Epsfac)
	p.twoKRF = float32(2.0 * m.KRF)
	p.cRF = float32(m.CRF)
	p.rVdwSq = float32(m.RVdw * m.RVdw)
	p.rCoulombSq = float32(m.RCoulomb * m.RCoulomb)
	p.rListSq = float32(m.RList * m.RList)

	p.shLJEwald = float32(m.ShLJEwald)
	p.ewaldCoeffLJ = float32(m.EwaldCoeffLJ)

	p.rVdwSwitch = float32(m.RVdwSwitch)
	p.dispersionShift = m.DispersionShift
	p.repulsionShift = m.RepulsionShift
	p.vdwSwitch = m.VdwSwitch
}

// pickEwaldKernel selects the Ewald flavor: analytical or tabulated, single
// or twin cutoff. The overrides are benchmarking switches; setting both
// flavor overrides at once is a fatal configuration error.
func pickEwaldKernel(twinCut bool, ov config.Overrides) (elecKernel, error) {
	if ov.ForceAnalyticalEwald && ov.ForceTabulatedEwald {
		return 0, fmt.Errorf("%w: both analytical and tabulated Ewald kernels forced",
			ErrInconsistentConfig)
	}

	analytical := !ov.ForceTabulatedEwald

	if twinCut || ov.ForceTwinCutoff {
		if analytical {
			return elecKernelEwaldAnaTwin, nil
		}
		return elecKernelEwaldTabTwin, nil
	}
	if analytical {
		return elecKernelEwaldAna, nil
	}
	return elecKernelEwaldTab, nil
}

// selectKernelFlavors maps the interaction model onto the kernel families.
func selectKernelFlavors(m *interaction.Model, ov config.Overrides) (elecKernel, vdwKernel, error) {
	var vdw vdwKernel
	switch m.Vdw {
	case interaction.VdwCut:
		switch m.VdwModifier {
		case interaction.ModNone, interaction.ModPotShift:
			vdw = vdwKernelCut
		case interaction.ModForceSwitch:
			vdw = vdwKernelFSwitch
		case interaction.ModPotSwitch:
			vdw = vdwKernelPSwitch
		default:
			return 0, 0, fmt.Errorf("%w: VdW modifier %d has no GPU kernel",
				ErrInconsistentConfig, m.VdwModifier)
		}
	case interaction.VdwPME:
		if m.LJCombRule == interaction.CombGeometric {
			vdw = vdwKernelEwaldGeom
		} else {
			vdw = vdwKernelEwaldLB
		}
	default:
		return 0, 0, fmt.Errorf("%w: VdW type %v has no GPU kernel",
			ErrInconsistentConfig, m.Vdw)
	}

	var elec elecKernel
	switch m.Elec {
	case interaction.ElecCut:
		elec = elecKernelCut
	case interaction.ElecReactionField:
		elec = elecKernelRF
	case interaction.ElecEwald:
		var err error
		if elec, err = pickEwaldKernel(m.TwinCutoff(), ov); err != nil {
			return 0, 0, err
		}
	default:
		return 0, 0, fmt.Errorf("%w: electrostatics type %v has no GPU kernel",
			ErrInconsistentConfig, m.Elec)
	}
	return elec, vdw, nil
}

// configure derives the kernel families, copies the cutoff scalars, and
// uploads the read-only parameter tables.
func (p *paramStore) configure(ctx device.Context, q device.Queue, m *interaction.Model,
	numTypes int, nbfp, nbfpComb []float32, ov config.Overrides) error {

	p.setCutoffParameters(m)

	elec, vdw, err := selectKernelFlavors(m, ov)
	if err != nil {
		return err
	}
	p.elec = elec
	p.vdw = vdw

	// one-element stand-in bound when no correction table is active
	if p.coulombPlaceholder, err = ctx.AllocBuffer(4); err != nil {
		return err
	}
	if p.elec.tabulated() {
		if err := p.buildOrRefreshCoulombTable(ctx, q); err != nil {
			return err
		}
	}

	if len(nbfp) != 2*numTypes*numTypes {
		return fmt.Errorf("%w: %d nbfp entries for %d types",
			ErrInconsistentConfig, len(nbfp), numTypes)
	}
	if p.nbfp, err = ctx.AllocBufferFrom(asBytes(nbfp)); err != nil {
		return err
	}

	if m.Vdw == interaction.VdwPME {
		if len(nbfpComb) != 2*numTypes {
			return fmt.Errorf("%w: %d nbfp_comb entries for %d types",
				ErrInconsistentConfig, len(nbfpComb), numTypes)
		}
		if p.nbfpComb, err = ctx.AllocBufferFrom(asBytes(nbfpComb)); err != nil {
			return err
		}
		p.nbfpCombActive = true
	} else {
		// placeholder again: the kernel binding slot must hold a live buffer
		if p.nbfpComb, err = ctx.AllocBuffer(4); err != nil {
			return err
		}
		p.nbfpCombActive = false
	}
	return nil
}

// buildOrRefreshCoulombTable tabulates the Ewald force correction and
// uploads it. The first build allocates the table buffer; later builds keep
// the buffer identity and only rewrite contents and the scale scalars.
func (p *paramStore) buildOrRefreshCoulombTable(ctx device.Context, q device.Queue) error {
	size := ewaldTableSize
	// subtract 2 instead of 1 so interpolation never samples past the end
	scale := float64(size-2) / math.Sqrt(float64(p.rCoulombSq))

	tab := make([]float32, size)
	if err := ewald.FillForceTable(tab, 1/scale, float64(p.ewaldBeta)); err != nil {
		return err
	}

	if p.coulombTab == nil {
		buf, err := ctx.AllocBufferFrom(asBytes(tab))
		if err != nil {
			return err
		}
		p.coulombTab = buf
	} else {
		ev, err := q.EnqueueWrite(p.coulombTab, 0, asBytes(tab))
		if err != nil {
			return err
		}
		if err := ev.Wait(); err != nil {
			return err
		}
	}
	p.coulombTabSize = size
	p.coulombTabScale = scale
	return nil
}

// updateAfterLoadBalancing re-copies the cutoff scalars, re-picks the Ewald
// flavor for the possibly now twin cutoffs, and rebuilds the correction
// table in place. Only meaningful for Ewald runs.
func (p *paramStore) updateAfterLoadBalancing(ctx device.Context, q device.Queue,
	m *interaction.Model, ov config.Overrides) error {

	if !p.elec.ewald() {
		return fmt.Errorf("%w: load-balancing update on non-Ewald run", ErrInconsistentConfig)
	}
	p.setCutoffParameters(m)

	elec, err := pickEwaldKernel(m.TwinCutoff(), ov)
	if err != nil {
		return err
	}
	p.elec = elec

	if p.elec.tabulated() {
		return p.buildOrRefreshCoulombTable(ctx, q)
	}
	return nil
}

// CoulombTable returns the buffer to bind for the correction-table slot.
// The second return reports whether a real table is present; when false the
// buffer is the one-element placeholder.
func (p *paramStore) CoulombTable() (device.Buffer, bool) {
	if p.elec.tabulated() && p.coulombTab != nil {
		return p.coulombTab, true
	}
	return p.coulombPlaceholder, false
}

// NbfpComb returns the combination-rule table slot, present only for LJ-PME.
func (p *paramStore) NbfpComb() (device.Buffer, bool) {
	return p.nbfpComb, p.nbfpCombActive
}

func (p *paramStore) release() error {
	bufs := []*device.Buffer{&p.nbfp, &p.nbfpComb, &p.coulombTab, &p.coulombPlaceholder}
	for _, b := range bufs {
		if *b == nil {
			continue
		}
		if err := (*b).Release(); err != nil {
			return err
		}
		*b = nil
	}
	return nil
}

// Package interaction describes the physics interaction model consumed by
// the nonbonded GPU core: electrostatics and Van der Waals types, interaction
// modifiers, cutoffs, and the derived constants the kernels need. It is a
// read-only input; the core never mutates a Model.
package interaction

// ElecType selects the electrostatics treatment.
type ElecType int

const (
	ElecCut ElecType = iota
	ElecReactionField
	ElecEwald // plain Ewald or PME, both map to the Ewald kernel families
)

func (e ElecType) String() string {
	switch e {
	case ElecCut:
		return "cutoff"
	case ElecReactionField:
		return "reaction-field"
	case ElecEwald:
		return "ewald"
	}
	return "unknown"
}

// VdwType selects the dispersion/repulsion treatment.
type VdwType int

const (
	VdwCut VdwType = iota
	VdwPME                // LJ-PME
)

func (v VdwType) String() string {
	switch v {
	case VdwCut:
		return "cutoff"
	case VdwPME:
		return "lj-pme"
	}
	return "unknown"
}

// Modifier adjusts an interaction near its cutoff.
type Modifier int

const (
	ModNone Modifier = iota
	ModPotShift
	ModForceSwitch
	ModPotSwitch
)

// CombRule is the LJ-PME combination rule.
type CombRule int

const (
	CombGeometric CombRule = iota
	CombLorentzBerthelot
)

// SwitchConsts are the polynomial coefficients of a force/potential switch.
type SwitchConsts struct {
	C2, C3 float32
	CPot   float32
}

// Model is the interaction descriptor handed to the core at configure time.
// Cutoff fields are in nm, matching the host-side pair search.
type Model struct {
	Elec        ElecType
	Vdw         VdwType
	VdwModifier Modifier
	LJCombRule  CombRule

	RCoulomb   float64 // electrostatics cutoff
	RVdw       float64 // dispersion cutoff
	RList      float64 // pair-list outer radius
	RVdwSwitch float64

	EwaldBeta    float64 // Ewald splitting parameter for charges
	EwaldCoeffLJ float64 // splitting parameter for LJ-PME
	ShEwald      float64 // Ewald potential shift
	ShLJEwald    float64
	Epsfac       float64 // electric conversion factor
	KRF, CRF     float64 // reaction-field constants

	DispersionShift SwitchConsts
	RepulsionShift  SwitchConsts
	VdwSwitch       SwitchConsts
}

// TwinCutoff reports whether electrostatics and dispersion use different
// cutoff radii, which requires the twin-cutoff kernel flavors.
func (m *Model) TwinCutoff() bool {
	return m.RCoulomb != m.RVdw
}

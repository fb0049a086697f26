package nonbonded

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/nbgpu/internal/config"
	"github.com/san-kum/nbgpu/internal/interaction"
)

func ewaldModel() *interaction.Model {
	return &interaction.Model{
		Elec:        interaction.ElecEwald,
		Vdw:         interaction.VdwCut,
		VdwModifier: interaction.ModPotShift,
		RCoulomb:    1.0,
		RVdw:        1.0,
		RList:       1.1,
		EwaldBeta:   3.12,
		Epsfac:      138.935458,
	}
}

func TestPickEwaldKernel(t *testing.T) {
	tests := []struct {
		name    string
		twinCut bool
		ov      config.Overrides
		want    elecKernel
	}{
		{"default analytical", false, config.Overrides{}, elecKernelEwaldAna},
		{"default twin", true, config.Overrides{}, elecKernelEwaldAnaTwin},
		{"forced tabulated", false, config.Overrides{ForceTabulatedEwald: true}, elecKernelEwaldTab},
		{"forced tabulated twin", true, config.Overrides{ForceTabulatedEwald: true}, elecKernelEwaldTabTwin},
		{"forced analytical", false, config.Overrides{ForceAnalyticalEwald: true}, elecKernelEwaldAna},
		{"forced twin cutoff", false, config.Overrides{ForceTwinCutoff: true}, elecKernelEwaldAnaTwin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickEwaldKernel(tt.twinCut, tt.ov)
			if err != nil {
				t.Fatalf("pickEwaldKernel: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPickEwaldKernelConflictingOverrides(t *testing.T) {
	_, err := pickEwaldKernel(false, config.Overrides{
		ForceAnalyticalEwald: true,
		ForceTabulatedEwald:  true,
	})
	if !errors.Is(err, ErrInconsistentConfig) {
		t.Fatalf("conflicting overrides returned %v, want ErrInconsistentConfig", err)
	}
}

func TestSelectKernelFlavors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*interaction.Model)
		wantElec elecKernel
		wantVdw  vdwKernel
	}{
		{
			"plain cutoff",
			func(m *interaction.Model) { m.Elec = interaction.ElecCut },
			elecKernelCut, vdwKernelCut,
		},
		{
			"reaction field",
			func(m *interaction.Model) { m.Elec = interaction.ElecReactionField },
			elecKernelRF, vdwKernelCut,
		},
		{
			"ewald single cutoff",
			func(m *interaction.Model) {},
			elecKernelEwaldAna, vdwKernelCut,
		},
		{
			"ewald twin cutoff",
			func(m *interaction.Model) { m.RCoulomb = 1.2 },
			elecKernelEwaldAnaTwin, vdwKernelCut,
		},
		{
			"force switch",
			func(m *interaction.Model) { m.VdwModifier = interaction.ModForceSwitch },
			elecKernelEwaldAna, vdwKernelFSwitch,
		},
		{
			"potential switch",
			func(m *interaction.Model) { m.VdwModifier = interaction.ModPotSwitch },
			elecKernelEwaldAna, vdwKernelPSwitch,
		},
		{
			"lj-pme geometric",
			func(m *interaction.Model) {
				m.Vdw = interaction.VdwPME
				m.LJCombRule = interaction.CombGeometric
			},
			elecKernelEwaldAna, vdwKernelEwaldGeom,
		},
		{
			"lj-pme lorentz-berthelot",
			func(m *interaction.Model) {
				m.Vdw = interaction.VdwPME
				m.LJCombRule = interaction.CombLorentzBerthelot
			},
			elecKernelEwaldAna, vdwKernelEwaldLB,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ewaldModel()
			tt.mutate(m)
			elec, vdw, err := selectKernelFlavors(m, config.Overrides{})
			if err != nil {
				t.Fatalf("selectKernelFlavors: %v", err)
			}
			if elec != tt.wantElec || vdw != tt.wantVdw {
				t.Errorf("got (%v, %v), want (%v, %v)", elec, vdw, tt.wantElec, tt.wantVdw)
			}
		})
	}
}

func TestForceKernelName(t *testing.T) {
	tests := []struct {
		elec          elecKernel
		vdw           vdwKernel
		energy, prune bool
		want          string
	}{
		{elecKernelEwaldAna, vdwKernelCut, false, false, "nbnxn_kernel_ElecEw_VdwLJ_F"},
		{elecKernelEwaldAna, vdwKernelCut, true, false, "nbnxn_kernel_ElecEw_VdwLJ_VF"},
		{elecKernelEwaldTab, vdwKernelFSwitch, false, true, "nbnxn_kernel_ElecEwQSTab_VdwLJFsw_F_prune"},
		{elecKernelRF, vdwKernelEwaldGeom, true, true, "nbnxn_kernel_ElecRF_VdwLJEwCombGeom_VF_prune"},
		{elecKernelCut, vdwKernelPSwitch, false, false, "nbnxn_kernel_ElecCut_VdwLJPsw_F"},
		{elecKernelEwaldAnaTwin, vdwKernelEwaldLB, true, false, "nbnxn_kernel_ElecEwTwinCut_VdwLJEwCombLB_VF"},
	}
	for _, tt := range tests {
		if got := forceKernelName(tt.elec, tt.vdw, tt.energy, tt.prune); got != tt.want {
			t.Errorf("forceKernelName(%v, %v, %v, %v) = %q, want %q",
				tt.elec, tt.vdw, tt.energy, tt.prune, got, tt.want)
		}
	}
}

func testNbfp(numTypes int) []float32 {
	return make([]float32, 2*numTypes*numTypes)
}

func TestConfigureTableIdentityStableAcrossRefresh(t *testing.T) {
	ctx, q := newTestQueue(t)
	p := &paramStore{}
	defer p.release()

	m := ewaldModel()
	ov := config.Overrides{ForceTabulatedEwald: true}
	if err := p.configure(ctx, q, m, 4, testNbfp(4), nil, ov); err != nil {
		t.Fatalf("configure: %v", err)
	}
	tab, present := p.CoulombTable()
	if !present {
		t.Fatal("tabulated run reports no coulomb table")
	}
	if p.coulombTabSize != ewaldTableSize {
		t.Errorf("table size %d, want %d", p.coulombTabSize, ewaldTableSize)
	}
	wantScale := float64(ewaldTableSize-2) / m.RCoulomb
	if math.Abs(p.coulombTabScale-wantScale) > 1e-9 {
		t.Errorf("table scale %v, want %v", p.coulombTabScale, wantScale)
	}

	// the load balancer moves the real-space cutoff; the kernels keep
	// binding the same buffer, only the contents and scale change
	m.RCoulomb = 1.25
	m.RVdw = 1.25
	if err := p.updateAfterLoadBalancing(ctx, q, m, ov); err != nil {
		t.Fatalf("updateAfterLoadBalancing: %v", err)
	}
	tab2, present := p.CoulombTable()
	if !present {
		t.Fatal("table lost after refresh")
	}
	if tab2 != tab {
		t.Error("refresh replaced the table buffer instead of rewriting it")
	}
	wantScale = float64(ewaldTableSize-2) / 1.25
	if math.Abs(p.coulombTabScale-wantScale) > 1e-9 {
		t.Errorf("refreshed scale %v, want %v", p.coulombTabScale, wantScale)
	}
}

func TestCoulombTableAbsentForAnalytical(t *testing.T) {
	ctx, q := newTestQueue(t)
	p := &paramStore{}
	defer p.release()

	if err := p.configure(ctx, q, ewaldModel(), 4, testNbfp(4), nil, config.Overrides{}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	buf, present := p.CoulombTable()
	if present {
		t.Error("analytical run reports a coulomb table")
	}
	if buf == nil {
		t.Error("no placeholder bound for the table slot")
	}
	if buf.Size() != 4 {
		t.Errorf("placeholder is %d bytes, want one element", buf.Size())
	}
}

func TestNbfpCombPlaceholderWithoutLJPME(t *testing.T) {
	ctx, q := newTestQueue(t)
	p := &paramStore{}
	defer p.release()

	if err := p.configure(ctx, q, ewaldModel(), 4, testNbfp(4), nil, config.Overrides{}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	buf, active := p.NbfpComb()
	if active {
		t.Error("nbfp_comb active without LJ-PME")
	}
	if buf == nil || buf.Size() != 4 {
		t.Error("nbfp_comb slot not backed by a one-element placeholder")
	}
}

func TestNbfpCombUploadedForLJPME(t *testing.T) {
	ctx, q := newTestQueue(t)
	p := &paramStore{}
	defer p.release()

	m := ewaldModel()
	m.Vdw = interaction.VdwPME
	comb := make([]float32, 2*4)
	if err := p.configure(ctx, q, m, 4, testNbfp(4), comb, config.Overrides{}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	buf, active := p.NbfpComb()
	if !active {
		t.Error("nbfp_comb inactive for LJ-PME")
	}
	if buf.Size() != len(comb)*4 {
		t.Errorf("nbfp_comb is %d bytes, want %d", buf.Size(), len(comb)*4)
	}
}

func TestConfigureRejectsBadNbfpLength(t *testing.T) {
	ctx, q := newTestQueue(t)
	p := &paramStore{}
	defer p.release()

	err := p.configure(ctx, q, ewaldModel(), 4, make([]float32, 7), nil, config.Overrides{})
	if !errors.Is(err, ErrInconsistentConfig) {
		t.Fatalf("bad nbfp length returned %v, want ErrInconsistentConfig", err)
	}
}

func TestUpdateAfterLoadBalancingNonEwald(t *testing.T) {
	ctx, q := newTestQueue(t)
	p := &paramStore{}
	defer p.release()

	m := ewaldModel()
	m.Elec = interaction.ElecReactionField
	if err := p.configure(ctx, q, m, 4, testNbfp(4), nil, config.Overrides{}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	err := p.updateAfterLoadBalancing(ctx, q, m, config.Overrides{})
	if !errors.Is(err, ErrInconsistentConfig) {
		t.Fatalf("non-Ewald update returned %v, want ErrInconsistentConfig", err)
	}
}

func TestUpdateAfterLoadBalancingSwitchesToTwin(t *testing.T) {
	ctx, q := newTestQueue(t)
	p := &paramStore{}
	defer p.release()

	m := ewaldModel()
	if err := p.configure(ctx, q, m, 4, testNbfp(4), nil, config.Overrides{}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if p.elec != elecKernelEwaldAna {
		t.Fatalf("initial flavor %v, want %v", p.elec, elecKernelEwaldAna)
	}

	m.RCoulomb = 1.4
	if err := p.updateAfterLoadBalancing(ctx, q, m, config.Overrides{}); err != nil {
		t.Fatalf("updateAfterLoadBalancing: %v", err)
	}
	if p.elec != elecKernelEwaldAnaTwin {
		t.Errorf("flavor after rebalance %v, want %v", p.elec, elecKernelEwaldAnaTwin)
	}
	if got := float32(1.4 * 1.4); p.rCoulombSq != got {
		t.Errorf("rCoulombSq = %v, want %v", p.rCoulombSq, got)
	}
}

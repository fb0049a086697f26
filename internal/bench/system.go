// Package bench drives the nonbonded GPU core over synthetic systems: it
// generates atoms, parameter tables and cluster-pair lists from a config,
// runs a step loop against a device, and reports the accumulated timings.
package bench

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/san-kum/nbgpu/internal/config"
	"github.com/san-kum/nbgpu/internal/interaction"
	"github.com/san-kum/nbgpu/internal/nonbonded"
)

// System is a self-contained synthetic molecular system: everything the
// core needs for a run, generated deterministically from the config seed.
type System struct {
	Model    *interaction.Model
	NumTypes int
	Nbfp     []float32
	NbfpComb []float32

	Atoms *nonbonded.AtomData

	// Lists holds one pair list per domain; the NonLocal slot is nil for
	// single-stream systems.
	Lists [2]*nonbonded.PairList

	boxSide float64
	rng     *rand.Rand
}

// Generate builds a synthetic system from the config.
func Generate(cfg *config.Config) (*System, error) {
	m, err := cfg.Model()
	if err != nil {
		return nil, err
	}

	natoms := cfg.System.Atoms
	ntypes := cfg.System.AtomTypes
	cluster := cfg.System.ClusterSize
	if natoms <= 0 || ntypes <= 0 || cluster <= 0 {
		return nil, fmt.Errorf("bench: bad system dimensions atoms=%d types=%d cluster=%d",
			natoms, ntypes, cluster)
	}
	nlocal := natoms
	if cfg.TwoStreams {
		nlocal = int(float64(natoms) * cfg.System.LocalFrac)
		// the domain split must land on a cluster boundary so the two
		// lists cover disjoint i-clusters
		nlocal = (nlocal + cluster - 1) / cluster * cluster
		if nlocal <= 0 || nlocal > natoms {
			nlocal = natoms
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	// box side for uniform density around 100 atoms/nm^3
	side := math.Cbrt(float64(natoms) / 100.0)
	if side < 2*cfg.RList {
		side = 2 * cfg.RList
	}

	sys := &System{
		Model:    m,
		NumTypes: ntypes,
		boxSide:  side,
		rng:      rng,
	}

	sys.Nbfp = makeNbfp(ntypes, rng)
	if m.Vdw == interaction.VdwPME {
		sys.NbfpComb = makeNbfpComb(ntypes, rng)
	}

	ad := &nonbonded.AtomData{
		XQ:         make([]float32, natoms*4),
		Types:      make([]int32, natoms),
		NumAtoms:   natoms,
		NumLocal:   nlocal,
		ShiftVecs:  make([]float32, nonbonded.ShiftCount*3),
		DynamicBox: cfg.System.DynamicBox,
	}
	for i := 0; i < natoms; i++ {
		ad.XQ[i*4+0] = float32(rng.Float64() * side)
		ad.XQ[i*4+1] = float32(rng.Float64() * side)
		ad.XQ[i*4+2] = float32(rng.Float64() * side)
		// alternate partial charges so the system stays neutral
		q := float32(0.4)
		if i%2 == 1 {
			q = -0.4
		}
		ad.XQ[i*4+3] = q
		ad.Types[i] = int32(rng.Intn(ntypes))
	}
	fillShiftVecs(ad.ShiftVecs, side)
	sys.Atoms = ad

	sys.Lists[nonbonded.Local] = sys.makePairList(cluster, 0, nlocal)
	if cfg.TwoStreams {
		sys.Lists[nonbonded.NonLocal] = sys.makePairList(cluster, nlocal, natoms)
	}
	return sys, nil
}

// Perturb jitters the positions in place, standing in for an integrator
// step between dispatches. Charges are untouched.
func (s *System) Perturb(scale float64) {
	for i := 0; i < s.Atoms.NumAtoms; i++ {
		for k := 0; k < 3; k++ {
			s.Atoms.XQ[i*4+k] += float32((s.rng.Float64() - 0.5) * scale)
		}
	}
}

// RegeneratePairLists rebuilds both lists, standing in for a pair search.
// Entry counts drift slightly so buffered reallocation paths get exercised.
func (s *System) RegeneratePairLists(cluster int) {
	s.Lists[nonbonded.Local] = s.makePairList(cluster, 0, s.Atoms.NumLocal)
	if s.Lists[nonbonded.NonLocal] != nil {
		s.Lists[nonbonded.NonLocal] = s.makePairList(cluster, s.Atoms.NumLocal, s.Atoms.NumAtoms)
	}
}

// makePairList tiles the atom range into clusters and pairs each i-cluster
// with a bounded window of j-clusters. Not a real distance search; the
// shape and size statistics are what matter for exercising the core.
// Cluster indices are absolute, so a list only names clusters inside its
// own [begin, end) atom range.
func (s *System) makePairList(cluster, begin, end int) *nonbonded.PairList {
	nclust := (end - begin + cluster - 1) / cluster
	base := begin / cluster
	pl := &nonbonded.PairList{ClusterSize: cluster}
	if nclust == 0 {
		return pl
	}

	window := 8 + s.rng.Intn(5) // j-clusters per i-cluster, in cj4 groups of 4
	excl := int32(0)
	pl.Excl = append(pl.Excl, nonbonded.ExclEntry{}) // all-interacting mask slot

	for ci := 0; ci < nclust; ci++ {
		start := int32(len(pl.CJ4))
		for g := 0; g < window; g++ {
			var e nonbonded.CJ4Entry
			for j := 0; j < 4; j++ {
				e.CJ[j] = int32(base + (ci+g*4+j)%nclust)
			}
			e.Imei[0] = nonbonded.IMEntry{IMask: 0xffffffff, ExclInd: excl}
			e.Imei[1] = nonbonded.IMEntry{IMask: 0xffffffff, ExclInd: excl}
			pl.CJ4 = append(pl.CJ4, e)
		}
		pl.SCI = append(pl.SCI, nonbonded.SCIEntry{
			Sci:         int32(base + ci),
			Shift:       int32(nonbonded.ShiftCount / 2), // central image
			CJ4IndStart: start,
			CJ4IndEnd:   int32(len(pl.CJ4)),
		})
	}
	return pl
}

// makeNbfp builds a symmetric C6/C12 table from per-type sigma/epsilon
// drawn around argon-like values.
func makeNbfp(ntypes int, rng *rand.Rand) []float32 {
	sigma := make([]float64, ntypes)
	eps := make([]float64, ntypes)
	for i := range sigma {
		sigma[i] = 0.3 + 0.1*rng.Float64()
		eps[i] = 0.5 + 0.5*rng.Float64()
	}
	nbfp := make([]float32, 2*ntypes*ntypes)
	for i := 0; i < ntypes; i++ {
		for j := 0; j < ntypes; j++ {
			s := 0.5 * (sigma[i] + sigma[j])
			e := math.Sqrt(eps[i] * eps[j])
			s6 := math.Pow(s, 6)
			c6 := 4 * e * s6
			c12 := c6 * s6
			nbfp[2*(i*ntypes+j)] = float32(c6)
			nbfp[2*(i*ntypes+j)+1] = float32(c12)
		}
	}
	return nbfp
}

// makeNbfpComb builds the per-type combination-rule table for LJ-PME.
func makeNbfpComb(ntypes int, rng *rand.Rand) []float32 {
	comb := make([]float32, 2*ntypes)
	for i := 0; i < ntypes; i++ {
		comb[2*i] = float32(0.3 + 0.1*rng.Float64())
		comb[2*i+1] = float32(0.5 + 0.5*rng.Float64())
	}
	return comb
}

// fillShiftVecs writes the 45 periodic image shifts of a cubic box.
func fillShiftVecs(out []float32, side float64) {
	i := 0
	for dz := -2; dz <= 2; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				out[i*3+0] = float32(float64(dx) * side)
				out[i*3+1] = float32(float64(dy) * side)
				out[i*3+2] = float32(float64(dz) * side)
				i++
			}
		}
	}
}

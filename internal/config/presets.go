package config

var Presets = map[string]*Config{
	"rf-small": {
		Electrostatics: "reaction-field", Vdw: "cutoff", VdwModifier: "pot-shift",
		RCoulomb: 0.9, RVdw: 0.9, RList: 1.0, Epsfac: DefaultEpsfac,
		System: SystemConfig{Atoms: 1000, AtomTypes: 8, LocalFrac: 1.0, ClusterSize: 8},
		Steps:  100,
	},
	"ewald-medium": {
		Electrostatics: "ewald", Vdw: "cutoff", VdwModifier: "pot-shift",
		RCoulomb: 1.0, RVdw: 1.0, RList: 1.1, EwaldBeta: DefaultEwaldBeta, Epsfac: DefaultEpsfac,
		System: SystemConfig{Atoms: 24000, AtomTypes: 16, LocalFrac: 1.0, ClusterSize: 8},
		Steps:  500,
	},
	"ewald-twin": {
		Electrostatics: "ewald", Vdw: "cutoff", VdwModifier: "pot-shift",
		RCoulomb: 1.2, RVdw: 1.0, RList: 1.3, EwaldBeta: 2.6, Epsfac: DefaultEpsfac,
		System: SystemConfig{Atoms: 24000, AtomTypes: 16, LocalFrac: 1.0, ClusterSize: 8},
		Steps:  500,
	},
	"dd-two-domain": {
		Electrostatics: "ewald", Vdw: "cutoff", VdwModifier: "pot-shift",
		RCoulomb: 1.0, RVdw: 1.0, RList: 1.1, EwaldBeta: DefaultEwaldBeta, Epsfac: DefaultEpsfac,
		System:     SystemConfig{Atoms: 48000, AtomTypes: 16, LocalFrac: 0.7, ClusterSize: 8},
		Steps:      500,
		TwoStreams: true,
	},
	"ljpme": {
		Electrostatics: "ewald", Vdw: "lj-pme", VdwModifier: "pot-shift",
		RCoulomb: 1.0, RVdw: 1.0, RList: 1.1, EwaldBeta: DefaultEwaldBeta, Epsfac: DefaultEpsfac,
		System: SystemConfig{Atoms: 12000, AtomTypes: 16, LocalFrac: 1.0, ClusterSize: 8},
		Steps:  200,
	},
}

// GetPreset returns a copy of the named preset, or nil. Callers may mutate
// the copy freely.
func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	out := *cfg
	return &out
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	return names
}

package config

import "os"

// Environment variables honored by OverridesFromEnv. These are benchmarking
// and debugging switches; production runs configure Overrides explicitly.
const (
	EnvForceAnalyticalEwald = "NBGPU_NB_ANA_EWALD"
	EnvForceTabulatedEwald  = "NBGPU_NB_TAB_EWALD"
	EnvForceTwinCutoff      = "NBGPU_NB_EWALD_TWINCUT"
	EnvDisableTiming        = "NBGPU_DISABLE_TIMING"
)

// Overrides are the behavior switches consumed by the nonbonded core. They
// are populated once at startup, either from a config file or from the
// environment; the core itself never reads environment variables.
type Overrides struct {
	// ForceAnalyticalEwald and ForceTabulatedEwald force the Ewald kernel
	// flavor. Setting both is a fatal configuration error. With neither set,
	// the analytical flavor is the default.
	ForceAnalyticalEwald bool `yaml:"force_analytical_ewald"`
	ForceTabulatedEwald  bool `yaml:"force_tabulated_ewald"`

	// ForceTwinCutoff selects the twin-cutoff kernel flavors even when the
	// electrostatics and dispersion cutoffs are equal.
	ForceTwinCutoff bool `yaml:"force_twin_cutoff"`

	// DisableTiming turns off timing instrumentation regardless of other
	// conditions.
	DisableTiming bool `yaml:"disable_timing"`
}

// Merge combines two override sets; a switch set in either is set in the
// result.
func (o Overrides) Merge(other Overrides) Overrides {
	return Overrides{
		ForceAnalyticalEwald: o.ForceAnalyticalEwald || other.ForceAnalyticalEwald,
		ForceTabulatedEwald:  o.ForceTabulatedEwald || other.ForceTabulatedEwald,
		ForceTwinCutoff:      o.ForceTwinCutoff || other.ForceTwinCutoff,
		DisableTiming:        o.DisableTiming || other.DisableTiming,
	}
}

// OverridesFromEnv reads the override switches from the environment. A
// variable counts as set when it is present with any value.
func OverridesFromEnv() Overrides {
	has := func(key string) bool {
		_, ok := os.LookupEnv(key)
		return ok
	}
	return Overrides{
		ForceAnalyticalEwald: has(EnvForceAnalyticalEwald),
		ForceTabulatedEwald:  has(EnvForceTabulatedEwald),
		ForceTwinCutoff:      has(EnvForceTwinCutoff),
		DisableTiming:        has(EnvDisableTiming),
	}
}

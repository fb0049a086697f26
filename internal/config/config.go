package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/nbgpu/internal/interaction"
)

const (
	DefaultRCoulomb  = 1.0
	DefaultRVdw      = 1.0
	DefaultRList     = 1.1
	DefaultEwaldBeta = 3.12
	DefaultEpsfac    = 138.935458
	DefaultSteps     = 100
	DefaultAtoms     = 3000
	DefaultAtomTypes = 16
)

type Config struct {
	Electrostatics string  `yaml:"electrostatics"` // cutoff | reaction-field | ewald
	Vdw            string  `yaml:"vdw"`            // cutoff | lj-pme
	VdwModifier    string  `yaml:"vdw_modifier"`   // none | pot-shift | force-switch | pot-switch
	RCoulomb       float64 `yaml:"r_coulomb"`
	RVdw           float64 `yaml:"r_vdw"`
	RList          float64 `yaml:"r_list"`
	EwaldBeta      float64 `yaml:"ewald_beta"`
	Epsfac         float64 `yaml:"epsfac"`

	System SystemConfig `yaml:"system"`

	Steps      int   `yaml:"steps"`
	Seed       int64 `yaml:"seed"`
	TwoStreams bool  `yaml:"two_streams"`

	Overrides Overrides `yaml:"overrides"`
}

type SystemConfig struct {
	Atoms       int     `yaml:"atoms"`
	AtomTypes   int     `yaml:"atom_types"`
	LocalFrac   float64 `yaml:"local_fraction"` // fraction of atoms in the local domain
	ClusterSize int     `yaml:"cluster_size"`
	DynamicBox  bool    `yaml:"dynamic_box"`
}

func DefaultConfig() *Config {
	return &Config{
		Electrostatics: "ewald",
		Vdw:            "cutoff",
		VdwModifier:    "pot-shift",
		RCoulomb:       DefaultRCoulomb,
		RVdw:           DefaultRVdw,
		RList:          DefaultRList,
		EwaldBeta:      DefaultEwaldBeta,
		Epsfac:         DefaultEpsfac,
		System: SystemConfig{
			Atoms:       DefaultAtoms,
			AtomTypes:   DefaultAtomTypes,
			LocalFrac:   1.0,
			ClusterSize: 8,
		},
		Steps: DefaultSteps,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Model translates the configured strings into the interaction descriptor
// consumed by the nonbonded core.
func (c *Config) Model() (*interaction.Model, error) {
	m := &interaction.Model{
		RCoulomb:  c.RCoulomb,
		RVdw:      c.RVdw,
		RList:     c.RList,
		EwaldBeta: c.EwaldBeta,
		Epsfac:    c.Epsfac,
	}

	switch c.Electrostatics {
	case "cutoff":
		m.Elec = interaction.ElecCut
	case "reaction-field":
		m.Elec = interaction.ElecReactionField
		// eps_rf -> infinity form of the reaction-field constants
		m.KRF = 1.0 / (2.0 * c.RCoulomb * c.RCoulomb * c.RCoulomb)
		m.CRF = 3.0 / (2.0 * c.RCoulomb)
	case "ewald":
		m.Elec = interaction.ElecEwald
	default:
		return nil, fmt.Errorf("unknown electrostatics type %q", c.Electrostatics)
	}

	switch c.Vdw {
	case "cutoff":
		m.Vdw = interaction.VdwCut
	case "lj-pme":
		m.Vdw = interaction.VdwPME
		m.LJCombRule = interaction.CombGeometric
	default:
		return nil, fmt.Errorf("unknown vdw type %q", c.Vdw)
	}

	switch c.VdwModifier {
	case "", "none":
		m.VdwModifier = interaction.ModNone
	case "pot-shift":
		m.VdwModifier = interaction.ModPotShift
	case "force-switch":
		m.VdwModifier = interaction.ModForceSwitch
	case "pot-switch":
		m.VdwModifier = interaction.ModPotSwitch
	default:
		return nil, fmt.Errorf("unknown vdw modifier %q", c.VdwModifier)
	}

	return m, nil
}

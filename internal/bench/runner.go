package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/san-kum/nbgpu/internal/config"
	"github.com/san-kum/nbgpu/internal/device"
	"github.com/san-kum/nbgpu/internal/nonbonded"
	"github.com/san-kum/nbgpu/internal/timing"
)

const (
	// searchInterval is the number of steps between pair-search steps.
	searchInterval = 20
	// energyInterval is the number of steps between energy/virial steps.
	energyInterval = 10
)

// Result is the outcome of one benchmark run.
type Result struct {
	Name   string
	Device string
	Atoms  int
	Steps  int
	Wall   time.Duration

	Timings   timing.Snapshot
	TimingsOK bool

	EnergyLJ float32
	EnergyEl float32

	MinCIBalanced   int
	EwaldAnalytical bool
}

// StepFunc is called after every completed step of a run, for live views.
type StepFunc func(step int, stepTime time.Duration)

// Runner owns one device context and drives complete nonbonded step loops
// over it.
type Runner struct {
	ctx    device.Context
	closes bool
}

// NewRunner selects a device and prepares it for runs. The returned runner
// owns the context; call Close when done.
func NewRunner() (*Runner, error) {
	ctx, err := device.AutoSelect()
	if err != nil {
		return nil, err
	}
	if h, ok := ctx.(*device.Host); ok {
		RegisterReferenceKernels(h)
	}
	return &Runner{ctx: ctx, closes: true}, nil
}

// NewRunnerOn wraps an existing context without taking ownership.
func NewRunnerOn(ctx device.Context) *Runner {
	if h, ok := ctx.(*device.Host); ok {
		RegisterReferenceKernels(h)
	}
	return &Runner{ctx: ctx}
}

// Device reports the name of the selected device.
func (r *Runner) Device() device.Info {
	return r.ctx.Info()
}

// Close releases the device context if the runner owns it.
func (r *Runner) Close() error {
	if !r.closes {
		return nil
	}
	return r.ctx.Close()
}

// Run executes cfg.Steps nonbonded steps over a synthetic system: a pair
// search every searchInterval steps, energy accumulation every
// energyInterval steps and on the final step. onStep may be nil.
func (r *Runner) Run(ctx context.Context, name string, cfg *config.Config, onStep StepFunc) (*Result, error) {
	sys, err := Generate(cfg)
	if err != nil {
		return nil, err
	}

	nb, err := nonbonded.New(r.ctx, nonbonded.Options{
		TwoStreams: cfg.TwoStreams,
		Overrides:  cfg.Overrides,
	})
	if err != nil {
		return nil, err
	}
	released := false
	defer func() {
		if !released {
			nb.Release()
		}
	}()

	if err := nb.InitConstants(sys.Model, sys.NumTypes, sys.Nbfp, sys.NbfpComb); err != nil {
		return nil, err
	}
	if err := nb.SetAtomData(sys.Atoms); err != nil {
		return nil, err
	}

	domains := []nonbonded.Domain{nonbonded.Local}
	if cfg.TwoStreams {
		domains = append(domains, nonbonded.NonLocal)
	}

	forces := make([]float32, sys.Atoms.NumAtoms*3)
	start := time.Now()

	for step := 0; step < cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stepStart := time.Now()

		searchStep := step%searchInterval == 0
		energyStep := step%energyInterval == 0 || step == cfg.Steps-1

		if searchStep {
			if step > 0 {
				sys.RegeneratePairLists(cfg.System.ClusterSize)
				if err := nb.SetAtomData(sys.Atoms); err != nil {
					return nil, err
				}
			}
			if err := nb.UploadShiftVectors(sys.Atoms); err != nil {
				return nil, err
			}
			for _, d := range domains {
				if err := nb.UploadPairList(d, sys.Lists[d]); err != nil {
					return nil, err
				}
			}
		}

		sys.Perturb(0.001)
		if err := nb.ClearOutputs(energyStep); err != nil {
			return nil, err
		}
		if err := nb.UploadPositions(nonbonded.Local, sys.Atoms.XQ); err != nil {
			return nil, err
		}
		if cfg.TwoStreams {
			// the nonlocal stream must not touch the shared buffers until
			// the local stream's clear and position upload have landed
			if err := nb.MarkMiscOpsDone(); err != nil {
				return nil, err
			}
			if err := nb.WaitMiscOpsDone(); err != nil {
				return nil, err
			}
			if err := nb.UploadPositions(nonbonded.NonLocal, sys.Atoms.XQ); err != nil {
				return nil, err
			}
		}

		for _, d := range domains {
			if err := nb.LaunchForceKernel(d, energyStep); err != nil {
				return nil, err
			}
		}
		if cfg.TwoStreams {
			if err := nb.MarkNonlocalDone(); err != nil {
				return nil, err
			}
		}

		for _, d := range domains {
			if err := nb.ReadOutputs(d, forces, energyStep && d == nonbonded.Local); err != nil {
				return nil, err
			}
		}
		if cfg.TwoStreams {
			if err := nb.WaitNonlocalDone(); err != nil {
				return nil, err
			}
			if err := nb.Finish(nonbonded.NonLocal); err != nil {
				return nil, err
			}
		}
		if err := nb.Finish(nonbonded.Local); err != nil {
			return nil, err
		}
		if err := nb.CollectTimings(); err != nil {
			return nil, err
		}

		if onStep != nil {
			onStep(step, time.Since(stepStart))
		}
	}

	res := &Result{
		Name:            name,
		Device:          r.ctx.Info().Name,
		Atoms:           sys.Atoms.NumAtoms,
		Steps:           cfg.Steps,
		Wall:            time.Since(start),
		MinCIBalanced:   nb.MinCIBalanced(),
		EwaldAnalytical: nb.IsEwaldAnalytical(),
	}
	res.EnergyLJ, res.EnergyEl = nb.Energies()
	res.Timings, res.TimingsOK = nb.Timings()

	released = true
	if err := nb.Release(); err != nil {
		return nil, fmt.Errorf("bench: teardown: %w", err)
	}
	return res, nil
}

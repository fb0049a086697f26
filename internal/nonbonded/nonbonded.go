package nonbonded

import (
	"fmt"
	"math"

	"github.com/san-kum/nbgpu/internal/config"
	"github.com/san-kum/nbgpu/internal/device"
	"github.com/san-kum/nbgpu/internal/interaction"
	"github.com/san-kum/nbgpu/internal/timing"
)

// DefaultBalanceFactor sizes the minimum balanced outer-cluster list count:
// factor times the device compute units. Heuristic; not validated against
// any device-reported maximum.
const DefaultBalanceFactor = 40

// SyncStrategy is how the outer loop waits for device completion.
type SyncStrategy int

const (
	// SyncBlocking waits on the stream. Required for timing instrumentation.
	SyncBlocking SyncStrategy = iota
	// SyncPolling spins on a host-visible flag instead of blocking. Event
	// timing does not work in this mode.
	SyncPolling
)

// Options configures the coordinator at construction.
type Options struct {
	// TwoStreams enables the NonLocal domain with its own command stream.
	TwoStreams bool

	Sync SyncStrategy

	// BalanceFactor overrides DefaultBalanceFactor when positive.
	BalanceFactor int

	Overrides config.Overrides

	// StagingLimit bounds the host staging pool, 0 = unlimited.
	StagingLimit int64
}

type domainState int

const (
	stateUninitialized domainState = iota
	stateStreamCreated
	stateReady // pair list uploaded
)

type pendingKind int

const (
	pendNbH2D pendingKind = iota
	pendNbD2H
	pendPairlistH2D
	pendKernel
)

type pendingTiming struct {
	kind          pendingKind
	energy, prune bool
	ev            device.Event
}

// Nonbonded coordinates the device-resident nonbonded data across the
// interaction domains. It owns one command stream and one pair list per
// active domain, and the atom data and parameters shared by both.
type Nonbonded struct {
	ctx    device.Context
	queues [domainCount]device.Queue
	states [domainCount]domainState

	atdat   *atomDataStore
	params  *paramStore
	plist   [domainCount]*pairListStore
	kernels kernelSet

	staging      *device.PinnedPool
	stagedELJ    []byte
	stagedEEl    []byte
	stagedFShift []byte

	timings *timing.Aggregator
	pending []pendingTiming

	twoStreams    bool
	doTime        bool
	balanceFactor int
	opts          Options

	nonlocalDone device.Event
	miscOpsDone  device.Event

	constantsSet bool
	released     bool
}

// New creates the coordinator on the given device context. The context
// remains owned by the caller and must outlive Release.
func New(ctx device.Context, opts Options) (*Nonbonded, error) {
	nb := &Nonbonded{
		ctx:           ctx,
		atdat:         &atomDataStore{natoms: -1, nalloc: -1},
		params:        &paramStore{},
		twoStreams:    opts.TwoStreams,
		balanceFactor: opts.BalanceFactor,
		opts:          opts,
	}
	if nb.balanceFactor <= 0 {
		nb.balanceFactor = DefaultBalanceFactor
	}

	// Event timing is incompatible with multiple streams and with polling
	// waits, and can be turned off explicitly.
	nb.doTime = !opts.TwoStreams && opts.Sync == SyncBlocking && !opts.Overrides.DisableTiming
	nb.timings = timing.New(nb.doTime)

	if err := nb.kernels.init(ctx.Program()); err != nil {
		return nil, err
	}

	// queues are created after doTime is settled: profiling is a queue
	// creation property
	var err error
	if nb.queues[Local], err = ctx.NewQueue(nb.doTime); err != nil {
		return nil, err
	}
	nb.states[Local] = stateStreamCreated
	nb.plist[Local] = newPairListStore()

	if opts.TwoStreams {
		if nb.queues[NonLocal], err = ctx.NewQueue(nb.doTime); err != nil {
			return nil, err
		}
		nb.states[NonLocal] = stateStreamCreated
		nb.plist[NonLocal] = newPairListStore()
	}

	nb.staging = device.NewPinnedPool(opts.StagingLimit)
	if nb.stagedELJ, err = nb.staging.Alloc(4); err != nil {
		return nil, err
	}
	if nb.stagedEEl, err = nb.staging.Alloc(4); err != nil {
		return nil, err
	}
	if nb.stagedFShift, err = nb.staging.Alloc(ShiftCount * 3 * 4); err != nil {
		return nil, err
	}
	return nb, nil
}

func (nb *Nonbonded) checkDomain(d Domain) error {
	if d < Local || d >= domainCount {
		return fmt.Errorf("%w: domain %d", ErrInconsistentConfig, d)
	}
	if nb.states[d] == stateUninitialized {
		return fmt.Errorf("%w: %s domain inactive", ErrNotReady, d)
	}
	return nil
}

// InitConstants allocates the fixed atom-data buffers, configures the
// parameter store for the interaction model and uploads the read-only
// parameter tables. Called exactly once per run; cutoff changes go through
// UpdateAfterLoadBalancing.
func (nb *Nonbonded) InitConstants(m *interaction.Model, numTypes int, nbfp, nbfpComb []float32) error {
	if nb.released {
		return ErrReleased
	}
	if nb.constantsSet {
		return fmt.Errorf("%w: constants already initialized", ErrInconsistentConfig)
	}
	if err := nb.atdat.initFirst(nb.ctx, numTypes); err != nil {
		return err
	}
	if err := nb.params.configure(nb.ctx, nb.queues[Local], m, numTypes, nbfp, nbfpComb, nb.opts.Overrides); err != nil {
		return err
	}
	nb.constantsSet = true
	// energy and shift-force outputs start from a known-clean state
	return nb.clearEFShift()
}

// SetAtomData grows the per-atom device buffers for a new atom count and
// uploads the atom types. Capacity only grows; growth clears the force
// buffer over the full new capacity.
func (nb *Nonbonded) SetAtomData(host *AtomData) error {
	if nb.released {
		return ErrReleased
	}
	realloced, ev, err := nb.atdat.setAtomData(nb.ctx, nb.queues[Local], host)
	if err != nil {
		return err
	}
	if nb.doTime && ev != nil {
		nb.pending = append(nb.pending, pendingTiming{kind: pendNbH2D, ev: ev})
	}
	if realloced {
		return nb.clearF(nb.atdat.nalloc)
	}
	return nil
}

// UploadShiftVectors transfers the periodic shift vectors, skipping the
// transfer for a static box after the first upload.
func (nb *Nonbonded) UploadShiftVectors(host *AtomData) error {
	if nb.released {
		return ErrReleased
	}
	_, err := nb.atdat.uploadShiftVec(nb.queues[Local], host)
	return err
}

// UploadPositions transfers the packed position+charge range of one domain
// onto that domain's stream. Called every step.
func (nb *Nonbonded) UploadPositions(d Domain, xq []float32) error {
	if nb.released {
		return ErrReleased
	}
	if err := nb.checkDomain(d); err != nil {
		return err
	}
	ev, err := nb.atdat.uploadXQ(nb.queues[d], d, xq)
	if err != nil {
		return err
	}
	if nb.doTime && ev != nil {
		nb.pending = append(nb.pending, pendingTiming{kind: pendNbH2D, ev: ev})
	}
	return nil
}

// UploadPairList transfers a freshly built pair list for one domain and
// marks it as owing a pruning pass. Called on pair-search steps only.
func (nb *Nonbonded) UploadPairList(d Domain, host *PairList) error {
	if nb.released {
		return ErrReleased
	}
	if err := nb.checkDomain(d); err != nil {
		return err
	}
	evs, err := nb.plist[d].upload(nb.ctx, nb.queues[d], host, nb.doTime)
	if err != nil {
		return err
	}
	nb.timings.CountPairlistUpload()
	if nb.doTime {
		for _, ev := range []device.Event{evs.sci, evs.cj4, evs.excl} {
			if ev != nil {
				nb.pending = append(nb.pending, pendingTiming{kind: pendPairlistH2D, ev: ev})
			}
		}
	}
	nb.states[d] = stateReady
	return nil
}

// PruneNeeded reports whether the domain's list owes a pruning pass.
func (nb *Nonbonded) PruneNeeded(d Domain) bool {
	if nb.plist[d] == nil {
		return false
	}
	return nb.plist[d].DoPrune()
}

// PruneDone records that the pruning pass ran for the domain.
func (nb *Nonbonded) PruneDone(d Domain) {
	if nb.plist[d] != nil {
		nb.plist[d].PruneDone()
	}
}

// ClearOutputs zeroes the force buffer for the current atom count, and the
// per-shift force and energy accumulators as well when the step produces
// virial or energy output. Skipping the latter otherwise avoids a kernel
// launch per step.
func (nb *Nonbonded) ClearOutputs(includeVirial bool) error {
	if nb.released {
		return ErrReleased
	}
	if nb.atdat.natoms < 0 {
		return fmt.Errorf("%w: atom data not set", ErrNotReady)
	}
	if err := nb.clearF(nb.atdat.natoms); err != nil {
		return err
	}
	if includeVirial {
		return nb.clearEFShift()
	}
	return nil
}

// RecordForceKernel accounts a force-kernel launch performed by the
// external dispatcher, for the {energy, prune} variant timing bucket.
func (nb *Nonbonded) RecordForceKernel(energy, prune bool, ev device.Event) {
	nb.timings.CountStep()
	if nb.doTime && ev != nil {
		nb.pending = append(nb.pending, pendingTiming{kind: pendKernel, energy: energy, prune: prune, ev: ev})
	}
}

// ReadOutputs enqueues the device-to-host copy of the domain's force range
// into forces, and of the energy and shift-force accumulators into host
// staging when withEnergies is set (Local domain only). Results are valid
// after Finish; use Energies and ShiftForces to decode the staged values.
func (nb *Nonbonded) ReadOutputs(d Domain, forces []float32, withEnergies bool) error {
	if nb.released {
		return ErrReleased
	}
	if err := nb.checkDomain(d); err != nil {
		return err
	}
	if nb.atdat.natoms < 0 {
		return fmt.Errorf("%w: atom data not set", ErrNotReady)
	}

	begin, count := 0, nb.atdat.natomsLocal
	if d == NonLocal {
		begin, count = nb.atdat.natomsLocal, nb.atdat.natoms-nb.atdat.natomsLocal
	}
	if len(forces) < (begin+count)*3 {
		return fmt.Errorf("%w: force slice holds %d floats, need %d",
			ErrInconsistentConfig, len(forces), (begin+count)*3)
	}
	if count > 0 {
		ev, err := nb.queues[d].EnqueueRead(nb.atdat.f, begin*3*4,
			asBytes(forces[begin*3:(begin+count)*3]))
		if err != nil {
			return err
		}
		if nb.doTime {
			nb.pending = append(nb.pending, pendingTiming{kind: pendNbD2H, ev: ev})
		}
	}

	if withEnergies && d == Local {
		reads := []struct {
			buf device.Buffer
			dst []byte
		}{
			{nb.atdat.eLJ, nb.stagedELJ},
			{nb.atdat.eEl, nb.stagedEEl},
			{nb.atdat.fShift, nb.stagedFShift},
		}
		for _, r := range reads {
			ev, err := nb.queues[d].EnqueueRead(r.buf, 0, r.dst)
			if err != nil {
				return err
			}
			if nb.doTime {
				nb.pending = append(nb.pending, pendingTiming{kind: pendNbD2H, ev: ev})
			}
		}
	}
	return nil
}

// Energies decodes the staged energy accumulators. Valid after Finish on
// the Local domain following a ReadOutputs with energies.
func (nb *Nonbonded) Energies() (lj, el float32) {
	return f32At(nb.stagedELJ, 0), f32At(nb.stagedEEl, 0)
}

// ShiftForces decodes the staged per-shift force corrections.
func (nb *Nonbonded) ShiftForces() []float32 {
	out := make([]float32, ShiftCount*3)
	for i := range out {
		out[i] = f32At(nb.stagedFShift, i)
	}
	return out
}

func f32At(b []byte, i int) float32 {
	off := i * 4
	bits := uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
	return math.Float32frombits(bits)
}

// Finish blocks until the domain's stream drains.
func (nb *Nonbonded) Finish(d Domain) error {
	if nb.released {
		return ErrReleased
	}
	if err := nb.checkDomain(d); err != nil {
		return err
	}
	return nb.queues[d].Finish()
}

// MarkNonlocalDone places a completion marker on the NonLocal stream so the
// force-combination step can wait for the non-local contributions.
func (nb *Nonbonded) MarkNonlocalDone() error {
	if err := nb.checkDomain(NonLocal); err != nil {
		return err
	}
	ev, err := nb.queues[NonLocal].EnqueueMarker()
	if err != nil {
		return err
	}
	nb.nonlocalDone = ev
	return nil
}

// WaitNonlocalDone blocks until the last MarkNonlocalDone marker completes.
func (nb *Nonbonded) WaitNonlocalDone() error {
	if nb.nonlocalDone == nil {
		return nil
	}
	return nb.nonlocalDone.Wait()
}

// MarkMiscOpsDone places a marker on the Local stream after the shared
// per-step setup work (atom-data uploads, buffer clears), so the NonLocal
// stream can order its work behind it.
func (nb *Nonbonded) MarkMiscOpsDone() error {
	if err := nb.checkDomain(Local); err != nil {
		return err
	}
	ev, err := nb.queues[Local].EnqueueMarker()
	if err != nil {
		return err
	}
	nb.miscOpsDone = ev
	return nil
}

// WaitMiscOpsDone blocks until the last MarkMiscOpsDone marker completes.
func (nb *Nonbonded) WaitMiscOpsDone() error {
	if nb.miscOpsDone == nil {
		return nil
	}
	return nb.miscOpsDone.Wait()
}

// CollectTimings drains the pending transfer and kernel events into the
// aggregator. Call after the step's Finish; events that have not completed
// are waited on.
func (nb *Nonbonded) CollectTimings() error {
	pending := nb.pending
	nb.pending = nil
	for _, p := range pending {
		d, ok := p.ev.Elapsed()
		if !ok {
			continue
		}
		switch p.kind {
		case pendNbH2D:
			nb.timings.AddNbH2D(d)
		case pendNbD2H:
			nb.timings.AddNbD2H(d)
		case pendPairlistH2D:
			nb.timings.AddPairlistH2D(d)
		case pendKernel:
			nb.timings.AddKernel(p.energy, p.prune, d)
		}
	}
	return nil
}

// Timings returns the accumulated counters. The second return is false
// when instrumentation is inactive for this run.
func (nb *Nonbonded) Timings() (timing.Snapshot, bool) {
	if err := nb.CollectTimings(); err != nil {
		return timing.Snapshot{}, false
	}
	return nb.timings.Get()
}

// ResetTimings zeroes the accumulated counters.
func (nb *Nonbonded) ResetTimings() {
	nb.timings.Reset()
}

// MinCIBalanced returns the minimum outer-cluster list size that keeps the
// device load-balanced; the external pair search sizes its work units with
// it.
func (nb *Nonbonded) MinCIBalanced() int {
	return nb.balanceFactor * nb.ctx.Info().ComputeUnits
}

// IsEwaldAnalytical reports whether the selected electrostatics kernel
// family is analytical Ewald.
func (nb *Nonbonded) IsEwaldAnalytical() bool {
	return nb.params.elec == elecKernelEwaldAna || nb.params.elec == elecKernelEwaldAnaTwin
}

// CoulombTable exposes the correction-table binding slot; the second
// return is false when the buffer is the inactive-feature placeholder.
func (nb *Nonbonded) CoulombTable() (device.Buffer, bool) {
	return nb.params.CoulombTable()
}

// UpdateAfterLoadBalancing re-derives cutoffs and the Ewald kernel flavor
// after the PME load balancer moved work between real and reciprocal
// space, rebuilding the correction table in place.
func (nb *Nonbonded) UpdateAfterLoadBalancing(m *interaction.Model) error {
	if nb.released {
		return ErrReleased
	}
	return nb.params.updateAfterLoadBalancing(nb.ctx, nb.queues[Local], m, nb.opts.Overrides)
}

// Release tears down all device resources in dependency order: kernels
// first, then device buffers, then the command streams, then the
// synchronization events and host staging. Using the coordinator after
// Release fails with ErrReleased.
func (nb *Nonbonded) Release() error {
	if nb.released {
		return ErrReleased
	}

	if err := nb.kernels.release(); err != nil {
		return err
	}
	if err := nb.atdat.release(); err != nil {
		return err
	}
	if err := nb.params.release(); err != nil {
		return err
	}
	for d := Local; d < domainCount; d++ {
		if nb.plist[d] == nil {
			continue
		}
		if err := nb.plist[d].release(); err != nil {
			return err
		}
		nb.plist[d] = nil
	}
	for d := Local; d < domainCount; d++ {
		if nb.queues[d] == nil {
			continue
		}
		if err := nb.queues[d].Finish(); err != nil {
			return err
		}
		if err := nb.queues[d].Release(); err != nil {
			return err
		}
		nb.queues[d] = nil
		nb.states[d] = stateUninitialized
	}
	nb.nonlocalDone = nil
	nb.miscOpsDone = nil

	nb.staging.Free(nb.stagedELJ)
	nb.staging.Free(nb.stagedEEl)
	nb.staging.Free(nb.stagedFShift)
	if err := nb.staging.Close(); err != nil {
		return err
	}

	nb.pending = nil
	nb.released = true
	return nil
}

// Package simulation runs a forward-time population for a fixed number of
// generations, recording ancestry in a ledger and compacting it on a
// configurable cadence.
//
// A Driver owns the ledger, the live population and the random source. Each
// Step advances one generation; when the cadence says so the ledger is
// simplified against the current cohort and the population is rebuilt in
// terms of the compacted ids. The last Step always compacts, so the final
// ledger only holds ancestry of the final cohort. Because compaction keeps
// relative node order and the random stream never depends on ids, the final
// ledger is the same for every cadence.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/nvandessel/lineage/internal/inherit"
	"github.com/nvandessel/lineage/internal/ledger"
	"github.com/nvandessel/lineage/internal/logging"
	"github.com/nvandessel/lineage/internal/metrics"
	"github.com/nvandessel/lineage/internal/population"
	"github.com/nvandessel/lineage/internal/simplify"
)

// State is the lifecycle of a Driver.
type State int

const (
	Running State = iota
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrCadenceMisconfigured reports intermediate compaction enabled with a
// non-positive interval.
var ErrCadenceMisconfigured = errors.New("compaction cadence misconfigured")

// Cadence says how often the ledger is compacted while a run is in
// progress. FinalOnly disables intermediate compaction; otherwise Every must
// be positive.
type Cadence struct {
	Every     int
	FinalOnly bool
}

// Config holds everything that determines the outcome of a run.
type Config struct {
	CohortSize        int
	Ploidy            int
	Generations       int
	SequenceLength    float64
	RecombinationRate float64
	IntegerSites      bool
	Seed              uint64
	Cadence           Cadence
	Simplify          simplify.Options
}

// CompactionEvent is passed to compaction hooks after the ledger has been
// replaced. Ledger and Population are the driver's live values and must not
// be modified.
type CompactionEvent struct {
	Generation  int
	Final       bool
	Ledger      *ledger.Ledger
	Population  *population.Population
	NodesBefore int
	EdgesBefore int
	Duration    time.Duration
}

// CompactionHook runs after every compaction. A returned error fails the run.
type CompactionHook func(ctx context.Context, ev CompactionEvent) error

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithDecisionLogger records each compaction in the JSONL trace.
func WithDecisionLogger(dl *logging.DecisionLogger) Option {
	return func(d *Driver) { d.decisions = dl }
}

// WithMetrics reports progress to r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(d *Driver) { d.metrics = r }
}

// WithCompactionHook adds a hook called after every compaction.
func WithCompactionHook(h CompactionHook) Option {
	return func(d *Driver) { d.hooks = append(d.hooks, h) }
}

// WithSelector replaces the default uniform-with-replacement mating.
func WithSelector(s population.ParentSelector) Option {
	return func(d *Driver) { d.selector = s }
}

// Driver steps a simulation. It is not safe for concurrent use.
type Driver struct {
	cfg       Config
	rng       *rand.Rand
	ledger    *ledger.Ledger
	pop       *population.Population
	advancer  *population.Advancer
	selector  population.ParentSelector
	logger    *slog.Logger
	decisions *logging.DecisionLogger
	metrics   *metrics.Recorder
	hooks     []CompactionHook

	state           State
	err             error
	generation      int
	remaining       int
	sinceCompaction int
	compactions     int
}

// New validates cfg and creates the founder cohort at time cfg.Generations.
func New(cfg Config, opts ...Option) (*Driver, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	l, err := ledger.New(cfg.SequenceLength)
	if err != nil {
		return nil, err
	}
	gen, err := inherit.New(cfg.RecombinationRate, cfg.IntegerSites)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:       cfg,
		rng:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5851f42d4c957f2d)),
		ledger:    l,
		selector:  population.UniformWithReplacement,
		logger:    logging.Discard(),
		remaining: cfg.Generations,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.Discard()
	}

	d.advancer = &population.Advancer{
		Ledger:     l,
		Generator:  gen,
		Select:     d.selector,
		CohortSize: cfg.CohortSize,
		Ploidy:     cfg.Ploidy,
	}
	d.pop, err = d.advancer.Advance(d.rng, nil, float64(cfg.Generations))
	if err != nil {
		return nil, fmt.Errorf("creating founders: %w", err)
	}
	d.metrics.LedgerSize(l.NodeCount(), l.EdgeCount(), l.IndividualCount())
	return d, nil
}

func validate(cfg Config) error {
	switch {
	case cfg.CohortSize < 1:
		return fmt.Errorf("cohort size must be positive, got %d", cfg.CohortSize)
	case cfg.Ploidy < 1:
		return fmt.Errorf("ploidy must be at least 1, got %d", cfg.Ploidy)
	case cfg.Generations < 0:
		return fmt.Errorf("generations must be non-negative, got %d", cfg.Generations)
	case !cfg.Cadence.FinalOnly && cfg.Cadence.Every < 1:
		return fmt.Errorf("%w: interval must be positive, got %d", ErrCadenceMisconfigured, cfg.Cadence.Every)
	}
	return nil
}

// State returns the current lifecycle state.
func (d *Driver) State() State { return d.state }

// Err returns the error that failed the run, if any.
func (d *Driver) Err() error { return d.err }

// Generation returns the number of generations advanced so far.
func (d *Driver) Generation() int { return d.generation }

// Remaining returns the number of generations still to run.
func (d *Driver) Remaining() int { return d.remaining }

// Compactions returns how many compactions have run, the final one included.
func (d *Driver) Compactions() int { return d.compactions }

// Ledger returns the live ledger. After Done it is the final compacted
// ledger whose samples are the final cohort.
func (d *Driver) Ledger() *ledger.Ledger { return d.ledger }

// Population returns the live population.
func (d *Driver) Population() *population.Population { return d.pop }

// Step advances one generation, compacting when the cadence is due, and
// performs the final compaction once no generations remain. Steps after Done
// do nothing; steps after a failure return the same error.
func (d *Driver) Step(ctx context.Context) error {
	switch d.state {
	case Done:
		return nil
	case Failed:
		return d.err
	}
	if err := ctx.Err(); err != nil {
		return d.fail(err)
	}

	if d.remaining > 0 {
		d.remaining--
		d.generation++
		pop, err := d.advancer.Advance(d.rng, d.pop, float64(d.remaining))
		if err != nil {
			return d.fail(fmt.Errorf("generation %d: %w", d.generation, err))
		}
		d.pop = pop
		d.sinceCompaction++
		d.metrics.Generation()
		d.metrics.LedgerSize(d.ledger.NodeCount(), d.ledger.EdgeCount(), d.ledger.IndividualCount())
		d.logger.Log(ctx, logging.LevelTrace, "generation advanced",
			"generation", d.generation, "remaining", d.remaining,
			"nodes", d.ledger.NodeCount(), "edges", d.ledger.EdgeCount())

		if d.remaining > 0 && !d.cfg.Cadence.FinalOnly && d.sinceCompaction >= d.cfg.Cadence.Every {
			if err := d.compact(ctx, false); err != nil {
				return d.fail(err)
			}
		}
	}

	if d.remaining == 0 {
		if err := d.compact(ctx, true); err != nil {
			return d.fail(err)
		}
		d.state = Done
		d.logger.Info("simulation complete",
			"generations", d.generation, "compactions", d.compactions,
			"nodes", d.ledger.NodeCount(), "edges", d.ledger.EdgeCount())
	}
	return nil
}

// Run steps until Done or the first error. The context is checked between
// generations.
func (d *Driver) Run(ctx context.Context) error {
	for d.state == Running {
		if err := d.Step(ctx); err != nil {
			return err
		}
	}
	if d.state == Failed {
		return d.err
	}
	return nil
}

func (d *Driver) fail(err error) error {
	d.state = Failed
	d.err = err
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		d.logger.Error("simulation failed", "generation", d.generation, "error", err)
	}
	return err
}

// compact simplifies the ledger against the live population's genomes and
// rebuilds the population in terms of the new ids.
func (d *Driver) compact(ctx context.Context, final bool) error {
	before := d.ledger
	samples := d.pop.Nodes()
	start := time.Now()

	res, err := simplify.Simplify(before, samples, d.cfg.Simplify)
	if err != nil {
		return fmt.Errorf("compacting at generation %d: %w", d.generation, err)
	}
	pop, _, err := RemapPopulation(d.pop, before, res)
	if err != nil {
		return fmt.Errorf("compacting at generation %d: %w", d.generation, err)
	}
	elapsed := time.Since(start)

	d.ledger = res.Ledger
	d.advancer.Ledger = res.Ledger
	d.pop = pop
	d.sinceCompaction = 0
	d.compactions++

	after := res.Ledger
	d.metrics.Compaction(final, elapsed)
	d.metrics.LedgerSize(after.NodeCount(), after.EdgeCount(), after.IndividualCount())
	d.logger.Debug("compacted ledger",
		"generation", d.generation, "final", final,
		"nodes_before", before.NodeCount(), "nodes_after", after.NodeCount(),
		"edges_before", before.EdgeCount(), "edges_after", after.EdgeCount(),
		"duration", elapsed)
	d.decisions.LogCompaction(logging.CompactionRecord{
		Generation:      d.generation,
		Final:           final,
		Samples:         len(samples),
		NodesBefore:     before.NodeCount(),
		NodesAfter:      after.NodeCount(),
		EdgesBefore:     before.EdgeCount(),
		EdgesAfter:      after.EdgeCount(),
		IndividualsKept: after.IndividualCount(),
		Seconds:         elapsed.Seconds(),
	})

	ev := CompactionEvent{
		Generation:  d.generation,
		Final:       final,
		Ledger:      after,
		Population:  pop,
		NodesBefore: before.NodeCount(),
		EdgesBefore: before.EdgeCount(),
		Duration:    elapsed,
	}
	for _, h := range d.hooks {
		if err := h(ctx, ev); err != nil {
			return fmt.Errorf("compaction hook at generation %d: %w", d.generation, err)
		}
	}
	return nil
}

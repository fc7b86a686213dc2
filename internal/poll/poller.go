// Package poll runs the scheduler query on a fixed interval.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/osteele/slurm-jobs/internal/logging"
	"github.com/osteele/slurm-jobs/internal/slurm"
)

// DefaultInterval is the time between squeue runs
const DefaultInterval = 2 * time.Second

// Result is the outcome of one poll
type Result struct {
	Seq   uint64
	Epoch uint64 // incremented by SetArgs
	Args  []string
	At    time.Time

	Jobs     []slurm.Job
	Rows     []slurm.RowError // rows skipped or partially parsed
	Err      error
	Duration time.Duration
}

// Options configures a Poller
type Options struct {
	Querier  slurm.Querier
	Layout   slurm.Layout // zero value means slurm.DefaultLayout
	Args     []string
	Interval time.Duration
	Logger   logging.Logger
}

// Poller queries the scheduler every interval and delivers results on C.
// Only one query runs at a time; ticks that arrive during a query are
// dropped. A failed query never stops the ticker.
type Poller struct {
	querier  slurm.Querier
	layout   slurm.Layout
	interval time.Duration
	log      logging.Logger

	mu    sync.Mutex
	args  []string
	epoch uint64
	seq   uint64

	out       chan Result
	refresh   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New returns a poller; call Start to begin polling
func New(opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if len(opts.Layout.Fields) == 0 {
		opts.Layout = slurm.DefaultLayout()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		querier:  opts.Querier,
		layout:   opts.Layout,
		interval: opts.Interval,
		log:      opts.Logger,
		args:     append([]string(nil), opts.Args...),
		out:      make(chan Result, 1),
		refresh:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the first poll immediately and then one per interval
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

// C returns the result channel
func (p *Poller) C() <-chan Result {
	return p.out
}

// Interval returns the polling period
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// SetArgs replaces the squeue arguments, polls as soon as possible and
// returns the new epoch. Results carrying an older epoch were produced with
// the previous arguments.
func (p *Poller) SetArgs(args []string) uint64 {
	p.mu.Lock()
	p.args = append([]string(nil), args...)
	p.epoch++
	epoch := p.epoch
	p.mu.Unlock()
	p.Refresh()
	return epoch
}

// Refresh requests a poll without waiting for the next tick. Requests made
// while a query is running collapse into one follow-up poll.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Close stops polling and kills a running query
func (p *Poller) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}

func (p *Poller) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		res := p.poll()
		select {
		case p.out <- res:
		case <-p.ctx.Done():
			return
		}
		ticker.Reset(p.interval)

		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		case <-p.refresh:
		}
	}
}

func (p *Poller) poll() Result {
	p.mu.Lock()
	p.seq++
	res := Result{
		Seq:   p.seq,
		Epoch: p.epoch,
		Args:  append([]string(nil), p.args...),
		At:    time.Now(),
	}
	p.mu.Unlock()

	out, err := p.querier.Query(p.ctx, res.Args)
	res.Duration = time.Since(res.At)
	if err != nil {
		if p.ctx.Err() == nil {
			p.log.Warn("squeue failed", "seq", res.Seq, "err", err)
		}
		res.Err = err
		return res
	}

	snap, err := p.layout.Parse(out)
	res.Rows = snap.Rows
	for _, row := range snap.Rows {
		p.log.Debug("squeue row", "line", row.Line, "skipped", row.Skipped, "err", row.Err, "text", row.Text)
	}
	if err != nil {
		p.log.Warn("squeue output unusable", "seq", res.Seq, "err", err)
		res.Err = fmt.Errorf("parse squeue output: %w", err)
		return res
	}
	res.Jobs = snap.Jobs
	p.log.Debug("poll", "seq", res.Seq, "jobs", len(res.Jobs), "took", res.Duration)
	return res
}

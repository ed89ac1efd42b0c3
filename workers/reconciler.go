package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"mocha-rewards/chain"
	"mocha-rewards/services"

	"github.com/go-co-op/gocron/v2"
)

// BackfillReport tallies one backfill pass.
type BackfillReport struct {
	From       uint64
	To         uint64
	Scanned    int
	Recorded   int
	Duplicates int
	Dropped    int
	Failed     int
}

func (r *BackfillReport) add(o MintOutcome) {
	r.Scanned++
	switch o {
	case MintRecorded:
		r.Recorded++
	case MintDuplicate:
		r.Duplicates++
	case MintDropped:
		r.Dropped++
	case MintFailed:
		r.Failed++
	}
}

// Reconciler replays mint logs the live subscription may have missed and repairs
// mint counters. Both run as gocron jobs.
type Reconciler struct {
	Listener   *ChainListener
	Ledger     *services.Ledger
	Chain      chain.Contract
	StartBlock uint64
	Window     uint64
	Interval   time.Duration

	sched gocron.Scheduler
}

func NewReconciler(listener *ChainListener, startBlock, window uint64, interval time.Duration) *Reconciler {
	if window == 0 {
		window = 2000
	}
	return &Reconciler{
		Listener:   listener,
		Ledger:     listener.Ledger,
		Chain:      listener.Chain,
		StartBlock: startBlock,
		Window:     window,
		Interval:   interval,
	}
}

// BackfillRange feeds every mint in [from, to] through the listener.
func (r *Reconciler) BackfillRange(ctx context.Context, from, to uint64) (BackfillReport, error) {
	report := BackfillReport{From: from, To: to}
	for start := from; start <= to; {
		end := min(start+r.Window-1, to)
		if _, err := r.scanWindow(ctx, start, end, &report); err != nil {
			return report, err
		}
		if end == to {
			break
		}
		start = end + 1
	}
	return report, nil
}

// BackfillFromCursor scans from the stored cursor to the chain head. The cursor only
// moves past a window when none of its events failed transiently. Without a cursor the
// scan starts at StartBlock, or at the current head when StartBlock is 0.
func (r *Reconciler) BackfillFromCursor(ctx context.Context) (BackfillReport, error) {
	contract := r.Chain.Address()
	head, err := r.Chain.LatestBlock(ctx)
	if err != nil {
		return BackfillReport{}, err
	}
	from := r.StartBlock
	last, found, err := r.Ledger.Cursor(ctx, contract)
	if err != nil {
		return BackfillReport{}, fmt.Errorf("read cursor: %w", err)
	}
	switch {
	case found:
		from = last + 1
	case r.StartBlock == 0:
		// No cursor and no configured start: anchor at the head instead of scanning from genesis.
		if err := r.Ledger.AdvanceCursor(ctx, contract, head); err != nil {
			return BackfillReport{}, err
		}
		log.Printf("[Reconciler] no cursor for %s, starting at head block %d", contract, head)
		return BackfillReport{From: head, To: head}, nil
	}
	report := BackfillReport{From: from, To: head}
	if from > head {
		return report, nil
	}

	for start := from; start <= head; {
		end := min(start+r.Window-1, head)
		failed, err := r.scanWindow(ctx, start, end, &report)
		if err != nil {
			return report, err
		}
		if failed > 0 {
			log.Printf("⚠️  [Reconciler] %d event(s) in %d-%d failed, cursor held at %d", failed, start, end, start-1)
			return report, nil
		}
		if err := r.Ledger.AdvanceCursor(ctx, contract, end); err != nil {
			return report, err
		}
		if end == head {
			break
		}
		start = end + 1
	}
	return report, nil
}

func (r *Reconciler) scanWindow(ctx context.Context, from, to uint64, report *BackfillReport) (int, error) {
	events, err := r.Chain.FilterMints(ctx, from, to)
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, ev := range events {
		outcome := r.Listener.HandleTransfer(ctx, ev)
		if outcome == MintFailed {
			failed++
		}
		report.add(outcome)
	}
	return failed, nil
}

// SyncMintCounts repairs current_mints from the recorded tokens.
func (r *Reconciler) SyncMintCounts(ctx context.Context) (int64, error) {
	fixed, err := r.Ledger.SyncMintCounts(ctx)
	if err != nil {
		return 0, err
	}
	if fixed > 0 {
		log.Printf("⚠️  [Reconciler] corrected current_mints on %d memories", fixed)
	}
	return fixed, nil
}

// Start schedules the backfill and mint-count jobs every Interval.
func (r *Reconciler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(r.Interval),
		gocron.NewTask(func() {
			report, err := r.BackfillFromCursor(ctx)
			if err != nil {
				log.Printf("❌ [Reconciler] backfill failed: %v", err)
				return
			}
			if report.Scanned > 0 {
				log.Printf("✅ [Reconciler] blocks %d-%d: %d scanned, %d recorded, %d dropped, %d failed",
					report.From, report.To, report.Scanned, report.Recorded, report.Dropped, report.Failed)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule backfill: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(r.Interval),
		gocron.NewTask(func() {
			if _, err := r.SyncMintCounts(ctx); err != nil {
				log.Printf("❌ [Reconciler] mint count sync failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule mint count sync: %w", err)
	}

	sched.Start()
	r.sched = sched
	log.Printf("[Reconciler] running every %s", r.Interval)
	return nil
}

func (r *Reconciler) Shutdown() error {
	if r.sched == nil {
		return nil
	}
	return r.sched.Shutdown()
}

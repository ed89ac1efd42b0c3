package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"mocha-rewards/chain"
	"mocha-rewards/models"
	"mocha-rewards/services"
)

var ErrListenerRunning = errors.New("chain listener already running")

// MintOutcome is what happened to one Transfer event.
type MintOutcome string

const (
	MintRecorded  MintOutcome = "recorded"
	MintDuplicate MintOutcome = "duplicate"
	MintSkipped   MintOutcome = "skipped" // not a mint, or removed by a reorg
	MintDropped   MintOutcome = "dropped" // cannot be recorded; retrying will not help
	MintFailed    MintOutcome = "failed"  // transient failure; a later backfill may succeed
)

// MetadataSource resolves a token URI to its metadata.
type MetadataSource interface {
	Fetch(ctx context.Context, uri string) (*models.TokenMetadata, []byte, error)
}

// ChainListener turns on-chain mints into UserMemory rows.
type ChainListener struct {
	Chain    chain.Contract
	Ledger   *services.Ledger
	Metadata MetadataSource
	Backoff  time.Duration

	running atomic.Bool
}

func NewChainListener(c chain.Contract, ledger *services.Ledger, metadata MetadataSource) *ChainListener {
	return &ChainListener{Chain: c, Ledger: ledger, Metadata: metadata, Backoff: 5 * time.Second}
}

// Run subscribes to mint events and handles them until ctx is cancelled. A broken
// subscription is re-established after Backoff. Only one Run may be active.
func (l *ChainListener) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrListenerRunning
	}
	defer l.running.Store(false)

	events := make(chan chain.TransferEvent, 64)
	for {
		sub, err := l.Chain.SubscribeMints(ctx, events)
		if err != nil {
			log.Printf("❌ [ChainListener] subscribe failed: %v (retrying in %s)", err, l.Backoff)
		} else {
			log.Printf("✅ [ChainListener] listening for mints on %s", l.Chain.Address())
			err = l.consume(ctx, sub, events)
			if err == nil {
				return nil
			}
			log.Printf("⚠️  [ChainListener] subscription lost: %v (retrying in %s)", err, l.Backoff)
		}

		select {
		case <-ctx.Done():
			log.Println("[ChainListener] stopped")
			return nil
		case <-time.After(l.Backoff):
		}
	}
}

func (l *ChainListener) consume(ctx context.Context, sub chain.Subscription, events <-chan chain.TransferEvent) error {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			log.Println("[ChainListener] stopped")
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case ev := <-events:
			l.HandleTransfer(ctx, ev)
		}
	}
}

// HandleTransfer processes one Transfer event. It never panics and never returns an
// error: every failure is logged and reported as an outcome.
func (l *ChainListener) HandleTransfer(ctx context.Context, ev chain.TransferEvent) (outcome MintOutcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [ChainListener] panic handling tx %s: %v", ev.TxHash, r)
			outcome = MintFailed
		}
	}()

	if !ev.IsMint() {
		return MintSkipped
	}
	if ev.Removed {
		log.Printf("⚠️  [ChainListener] ignoring removed mint log %s (token %v)", ev.TxHash, ev.TokenID)
		return MintSkipped
	}
	outcome, err := l.HandleMint(ctx, ev)
	if err != nil {
		log.Printf("❌ [ChainListener] token %v %s: %v", ev.TokenID, outcome, err)
	}
	return outcome
}

// HandleMint records a mint. Replays of an already recorded token_id are no-ops.
func (l *ChainListener) HandleMint(ctx context.Context, ev chain.TransferEvent) (MintOutcome, error) {
	tokenID, err := chain.TokenIDInt64(ev.TokenID)
	if err != nil {
		return MintDropped, err
	}

	if _, found, err := l.Ledger.FindUserMemoryByToken(ctx, tokenID); err != nil {
		return MintFailed, fmt.Errorf("lookup token: %w", err)
	} else if found {
		log.Printf("[ChainListener] token %d already recorded", tokenID)
		return MintDuplicate, nil
	}

	uri, err := l.Chain.TokenURI(ctx, ev.TokenID)
	if err != nil {
		return MintFailed, services.NewUpstreamUnavailable(err)
	}

	rec := services.MintRecord{
		ContractAddress: l.Chain.Address(),
		OwnerWallet:     ev.To,
		TokenID:         tokenID,
		TxHash:          ev.TxHash,
		BlockNumber:     ev.BlockNumber,
		TokenURI:        uri,
		MintedAt:        time.Now(),
	}
	if l.Metadata != nil {
		md, raw, err := l.Metadata.Fetch(ctx, uri)
		if err != nil {
			log.Printf("⚠️  [ChainListener] metadata for token %d unavailable: %v", tokenID, err)
		}
		rec.Metadata, rec.MetadataRaw = md, raw
	}

	um, created, err := l.Ledger.RecordMint(ctx, rec)
	switch {
	case errors.Is(err, services.ErrRootMemoryMissing), errors.Is(err, services.ErrMintCapReached):
		return MintDropped, err
	case err != nil:
		return MintFailed, err
	case !created:
		return MintDuplicate, nil
	}
	log.Printf("✅ [ChainListener] recorded token %d for %s (max_redemptions=%d)", um.TokenID, um.OwnerWallet, um.MaxRedemptions)
	return MintRecorded, nil
}

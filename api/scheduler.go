/*
scheduler.go - Automated settlement of terminated escrows

PURPOSE:
  Periodically returns the unvested remainder of terminated beneficiaries to
  the treasury, so a vesting manager does not have to call settle for each
  one by hand.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only terminated beneficiaries with an outstanding remainder are touched
  - Acts as the configured vesting manager; the allocator enforces the role
  - Staked remainder is skipped by the allocator and picked up on a later
    run once it is undelegated

USAGE:
  scheduler := NewSettlementScheduler(allocator, "ops", logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Settle endpoint (manual settlement)
  - allocator/escrow.go: RetrieveAfterTermination
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/vesting-engine/allocator"
	"github.com/warp/vesting-engine/token"
)

// SettlementScheduler settles terminated escrows in the background.
type SettlementScheduler struct {
	Allocator     *allocator.Allocator
	Manager       token.Address
	CheckInterval time.Duration
	Enabled       bool

	log    *slog.Logger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewSettlementScheduler(a *allocator.Allocator, manager token.Address, logger *slog.Logger) *SettlementScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementScheduler{
		Allocator:     a,
		Manager:       manager,
		CheckInterval: 1 * time.Minute,
		Enabled:       true,
		log:           logger.With("component", "scheduler"),
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *SettlementScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan bool)
	s.wg.Add(1)

	go s.run()

	s.log.Info("started", "interval", s.CheckInterval, "manager", s.Manager)
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *SettlementScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info("stopped")
	}
}

func (s *SettlementScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.checkAndProcess(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.checkAndProcess(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow triggers an immediate check and reports how many escrows returned
// tokens.
func (s *SettlementScheduler) RunNow(ctx context.Context) int {
	return s.checkAndProcess(ctx)
}

func (s *SettlementScheduler) checkAndProcess(ctx context.Context) int {
	beneficiaries, err := s.Allocator.ListBeneficiaries(ctx)
	if err != nil {
		s.log.Error("listing beneficiaries", "error", err)
		return 0
	}

	settled, pending := 0, 0
	for _, b := range beneficiaries {
		if !b.IsTerminated() {
			continue
		}
		escrow, err := s.Allocator.Escrow(ctx, b.Address)
		if err != nil {
			s.log.Error("loading escrow", "beneficiary", b.Address, "error", err)
			continue
		}
		remainder, err := escrow.Remainder(ctx)
		if err != nil {
			s.log.Error("computing remainder", "beneficiary", b.Address, "error", err)
			continue
		}
		if !remainder.IsPositive() {
			continue
		}

		returned, err := escrow.RetrieveAfterTermination(ctx, s.Manager)
		if err != nil {
			s.log.Error("settling escrow", "beneficiary", b.Address, "error", err)
			continue
		}
		if returned.IsPositive() {
			settled++
		}
		if returned.LessThan(remainder) {
			pending++
		}
	}

	if settled > 0 || pending > 0 {
		s.log.Info("settlement run completed", "settled", settled, "pending", pending)
	}
	return settled
}

package scheduler

import (
	"fmt"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/raffle"
	"ms-raffle/internal/treasury"
	"time"

	"github.com/go-co-op/gocron"
)

// Scheduler runs the two recurring housekeeping jobs: sweeping raffles past
// their deadline into Close, and auditing that escrowed funds still cover
// every unsettled pool.
type Scheduler struct {
	cron     *gocron.Scheduler
	service  *raffle.RaffleService
	treasury *treasury.Treasury
	logger   *logger.Logger
}

func New(service *raffle.RaffleService, tr *treasury.Treasury, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		service:  service,
		treasury: tr,
		logger:   log,
	}
}

func (s *Scheduler) Start() {
	s.cron.Every(1).Minute().Do(s.sweepDeadlines)
	s.cron.Every(1).Hour().Do(s.auditCustody)
	s.cron.StartAsync()
	s.logger.Info("SCHEDULER", "Background jobs started")
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) sweepDeadlines() {
	closed, err := s.service.SweepDeadlines()
	if err != nil {
		s.logger.Error("SCHEDULER", fmt.Sprintf("Deadline sweep failed: %v", err))
		return
	}
	if closed > 0 {
		s.logger.Info("SCHEDULER", fmt.Sprintf("Deadline sweep closed %d raffle(s)", closed))
	}
}

// auditCustody checks the escrow invariant: the custody balance must cover
// the sum of all pools that have not been settled out yet.
func (s *Scheduler) auditCustody() {
	liability, err := s.treasury.OutstandingLiability()
	if err != nil {
		s.logger.Error("SCHEDULER", fmt.Sprintf("Custody audit failed: %v", err))
		return
	}
	balance, err := s.treasury.CustodyBalance()
	if err != nil {
		s.logger.Error("SCHEDULER", fmt.Sprintf("Custody audit failed: %v", err))
		return
	}

	if balance < liability {
		s.logger.Error("SCHEDULER", fmt.Sprintf(
			"Custody shortfall: balance %d below outstanding liability %d", balance, liability))
		return
	}
	s.logger.Debug("SCHEDULER", fmt.Sprintf("Custody audit ok: balance %d, liability %d", balance, liability))
}

package raffle

import (
	"ms-raffle/internal/models"
	"ms-raffle/internal/settlement"
)

// Read path. Queries see committed state only; they never observe a
// half-applied mutation because mutations commit atomically.

func (s *RaffleService) TotalRaffles() (int64, error) {
	return s.DB.CountRaffles()
}

func (s *RaffleService) ActiveRaffleIDs() ([]int64, error) {
	status := models.StatusActive
	return s.DB.ListRaffleIDs(&status)
}

func (s *RaffleService) AllRaffleIDs() ([]int64, error) {
	return s.DB.ListRaffleIDs(nil)
}

func (s *RaffleService) RaffleDetails(raffleID int64) (*models.Raffle, error) {
	return s.getRaffle(raffleID)
}

// Participants returns the full ordered entry sequence; with the seed it
// makes any past selection reproducible.
func (s *RaffleService) Participants(raffleID int64) ([]string, error) {
	if _, err := s.getRaffle(raffleID); err != nil {
		return nil, err
	}
	return s.DB.Participants(raffleID)
}

func (s *RaffleService) EntryCountFor(raffleID int64, participant string) (int64, error) {
	if _, err := s.getRaffle(raffleID); err != nil {
		return 0, err
	}
	return s.DB.CountFor(raffleID, participant)
}

// EstimatedPrize is the pool minus the protocol fee at its current value.
func (s *RaffleService) EstimatedPrize(raffleID int64) (int64, error) {
	raffle, err := s.getRaffle(raffleID)
	if err != nil {
		return 0, err
	}
	fee := settlement.Fee(raffle.Pool, s.Settlement.FeeBps)
	return settlement.Prize(raffle.Pool, fee), nil
}

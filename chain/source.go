package chain

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"stake-group/models"
)

// Source reports the authoritative block position. It is read at the start
// of every call and never cached between calls.
type Source interface {
	Current() models.BlockInfo
}

// ClockSource derives block height and time from a clock, producing one
// block every blockTime after genesis.
type ClockSource struct {
	clock         clockwork.Clock
	genesisHeight uint64
	genesisTime   time.Time
	blockTime     time.Duration
}

// NewClockSource creates a ClockSource. A zero genesisTime starts the chain
// at the clock's current time.
func NewClockSource(clock clockwork.Clock, genesisHeight uint64, genesisTime time.Time, blockTime time.Duration) (*ClockSource, error) {
	if blockTime <= 0 {
		return nil, errors.New("block time must be greater than 0")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if genesisTime.IsZero() {
		genesisTime = clock.Now()
	}
	return &ClockSource{
		clock:         clock,
		genesisHeight: genesisHeight,
		genesisTime:   genesisTime,
		blockTime:     blockTime,
	}, nil
}

// Current returns the block the clock is in. Block time is the block's start.
func (s *ClockSource) Current() models.BlockInfo {
	elapsed := s.clock.Since(s.genesisTime)
	if elapsed < 0 {
		elapsed = 0
	}
	blocks := uint64(elapsed / s.blockTime)
	return models.BlockInfo{
		Height: s.genesisHeight + blocks,
		Time:   s.genesisTime.Add(time.Duration(blocks) * s.blockTime),
	}
}

package models

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"
)

// MaxDurationSeconds is the longest time period that fits a time.Duration
const MaxDurationSeconds = uint64(math.MaxInt64 / int64(time.Second))

// latest instant whose unix nanoseconds fit an int64
var maxExpirationTime = time.Unix(0, math.MaxInt64)

// BlockInfo is the environment's authoritative position at call time
type BlockInfo struct {
	Height uint64    `json:"height"`
	Time   time.Time `json:"time"`
}

// Duration is a span measured either in blocks or in seconds. Exactly one
// of the fields is set.
type Duration struct {
	Height *uint64 `json:"height,omitempty" mapstructure:"height"`
	Time   *uint64 `json:"time,omitempty" mapstructure:"time"`
}

func HeightDuration(blocks uint64) Duration {
	return Duration{Height: &blocks}
}

func TimeDuration(d time.Duration) Duration {
	secs := uint64(d / time.Second)
	return Duration{Time: &secs}
}

func (d Duration) Validate() error {
	if (d.Height == nil) == (d.Time == nil) {
		return errors.New("duration must set exactly one of height or time")
	}
	if d.Time != nil && *d.Time > MaxDurationSeconds {
		return fmt.Errorf("time duration exceeds %d seconds", MaxDurationSeconds)
	}
	return nil
}

// After returns the expiration reached once d has elapsed from block. It
// fails with ErrOverflow when that point cannot be represented.
func (d Duration) After(block BlockInfo) (Expiration, error) {
	switch {
	case d.Height != nil:
		h, carry := bits.Add64(block.Height, *d.Height, 0)
		if carry != 0 {
			return Expiration{}, fmt.Errorf("%w: height %d + %d", ErrOverflow, block.Height, *d.Height)
		}
		return AtHeight(h), nil
	case d.Time != nil:
		if *d.Time > MaxDurationSeconds {
			return Expiration{}, fmt.Errorf("%w: %d seconds", ErrOverflow, *d.Time)
		}
		at := block.Time.Add(time.Duration(*d.Time) * time.Second)
		if at.Before(time.Unix(0, 0)) || at.After(maxExpirationTime) {
			return Expiration{}, fmt.Errorf("%w: release time %s", ErrOverflow, at.UTC().Format(time.RFC3339))
		}
		return AtTime(at), nil
	default:
		return Never(), nil
	}
}

// Expiration is a point in height or time. An Expiration with no field set
// behaves as Never.
type Expiration struct {
	AtHeight *uint64   `json:"at_height,omitempty"`
	AtTime   *uint64   `json:"at_time,omitempty"` // unix nanoseconds
	Never    *struct{} `json:"never,omitempty"`
}

func AtHeight(h uint64) Expiration {
	return Expiration{AtHeight: &h}
}

func AtTime(t time.Time) Expiration {
	ns := uint64(t.UnixNano())
	return Expiration{AtTime: &ns}
}

func Never() Expiration {
	return Expiration{Never: &struct{}{}}
}

// IsExpired reports whether block is at or past the expiration
func (e Expiration) IsExpired(block BlockInfo) bool {
	switch {
	case e.AtHeight != nil:
		return block.Height >= *e.AtHeight
	case e.AtTime != nil:
		return uint64(block.Time.UnixNano()) >= *e.AtTime
	default:
		return false
	}
}

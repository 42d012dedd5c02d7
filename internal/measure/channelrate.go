package measure

import (
	"math"

	"github.com/wattline/wattline-core/internal/datalog"
)

// ChannelRate is a Measurement computing the average rate of a datalog
// accumulator over a window.
//
// A watt-hour accumulator divided by elapsed hours yields average watts;
// an amp-hour accumulator yields average amps, and so on. Scale allows
// derived units (VA from volt-amp-hours, kW reporting, etc.).
type ChannelRate struct {
	name      string
	unit      Unit
	precision int
	channel   string
	scale     float64
}

// NewChannelRate creates a rate measurement over the named accumulator
// channel. A zero scale is treated as 1.
func NewChannelRate(name string, unit Unit, precision int, channel string, scale float64) *ChannelRate {
	if scale == 0 {
		scale = 1
	}
	return &ChannelRate{
		name:      name,
		unit:      unit,
		precision: precision,
		channel:   channel,
		scale:     scale,
	}
}

// Name implements Measurement.
func (c *ChannelRate) Name() string { return c.name }

// Unit implements Measurement.
func (c *ChannelRate) Unit() Unit { return c.unit }

// Precision implements Measurement.
func (c *ChannelRate) Precision() int { return c.precision }

// Run implements Measurement. It returns NaN when the window spans no
// operating time or the channel is absent from either snapshot.
func (c *ChannelRate) Run(old, new datalog.Snapshot) float64 {
	elapsed := new.LogHours - old.LogHours
	if elapsed <= 0 {
		return math.NaN()
	}

	oldVal, okOld := old.Accum[c.channel]
	newVal, okNew := new.Accum[c.channel]
	if !okOld || !okNew {
		return math.NaN()
	}

	return (newVal - oldVal) / elapsed * c.scale
}

// Package schedule provides the wall-clock implementation of ports.Scheduler.
package schedule

import (
	"time"

	"github.com/kirillkom/canopy-survey/internal/core/ports"
)

type Realtime struct{}

func (Realtime) AfterFunc(d time.Duration, fn func()) ports.Timer {
	return time.AfterFunc(d, fn)
}

var _ ports.Scheduler = Realtime{}

package dwarfsopt

import (
	"fmt"
	"strconv"
	"time"

	"github.com/CrazyForks/dwarfs/lib/dwarfserr"
	"github.com/CrazyForks/dwarfs/lib/writer"
)

// setTimeLayout matches spec.md Section 6's --set-time=<epoch|now|
// "YYYY-MM-DD HH:MM"> quoted-date form.
const setTimeLayout = "2006-01-02 15:04"

// ParseSetTime parses a --set-time option value into a
// writer.TimeOverride: a bare integer is an epoch-seconds value,
// "now" resolves to the current time, and anything else is parsed as
// a "YYYY-MM-DD HH:MM" timestamp in UTC.
func ParseSetTime(s string) (writer.TimeOverride, error) {
	if s == "now" {
		return writer.TimeOverride{Epoch: time.Now().Unix(), Set: true}, nil
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return writer.TimeOverride{Epoch: epoch, Set: true}, nil
	}
	t, err := time.Parse(setTimeLayout, s)
	if err != nil {
		return writer.TimeOverride{}, dwarfserr.New(dwarfserr.KindBadArgs,
			fmt.Errorf("invalid --set-time value %q: expected an epoch integer, \"now\", or %q: %w", s, setTimeLayout, err))
	}
	return writer.TimeOverride{Epoch: t.Unix(), Set: true}, nil
}

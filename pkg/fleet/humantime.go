package fleet

import (
	"fmt"
	"strings"
	"time"
)

// HumanDuration renders a duration as "2d 3h 4m 5s", dropping leading
// units that are zero. Sub-second durations render as "0s".
func HumanDuration(d time.Duration) string {
	seconds := int64(d.Seconds())
	if seconds <= 0 {
		return "0s"
	}

	var b strings.Builder
	if seconds >= 86400 {
		fmt.Fprintf(&b, "%dd ", seconds/86400)
		seconds %= 86400
	}
	if seconds >= 3600 {
		fmt.Fprintf(&b, "%dh ", seconds/3600)
		seconds %= 3600
	}
	if seconds >= 60 {
		fmt.Fprintf(&b, "%dm ", seconds/60)
		seconds %= 60
	}
	if seconds > 0 {
		fmt.Fprintf(&b, "%ds ", seconds)
	}
	return strings.TrimSpace(b.String())
}

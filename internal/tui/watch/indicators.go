package watch

import (
	"strings"
	"time"
)

const activityDots = 5

// Activity lights up when an event arrives and fades one dot every two
// seconds after the last one.
type Activity struct {
	lit       int
	lastEvent time.Time
}

func (a *Activity) OnEvent(at time.Time) {
	a.lit = activityDots
	a.lastEvent = at
}

// Decay recomputes the lit dots for now.
func (a *Activity) Decay(now time.Time) {
	if a.lastEvent.IsZero() {
		return
	}
	faded := int(now.Sub(a.lastEvent) / (2 * time.Second))
	a.lit = max(activityDots-faded, 0)
}

func (a Activity) LastEvent() time.Time {
	return a.lastEvent
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := 0; i < activityDots; i++ {
		if i < a.lit {
			b.WriteString(theme.ActivityOn.Render("●"))
		} else {
			b.WriteString(theme.ActivityOff.Render("○"))
		}
	}
	return b.String()
}

package bot

import (
	"fmt"
	"strings"
	"time"
)

// Status summarizes what the crawler watches and who receives its listings.
type Status struct {
	Searches    int
	Receivers   int
	Subscribers int
	Seen        int
	Receiving   bool
	Looping     bool
	Interval    time.Duration
}

// FormatStatus formats the /status reply.
func FormatStatus(st Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Searches: %d\n", st.Searches)
	if st.Looping {
		fmt.Fprintf(&b, "Checked every %s\n", st.Interval)
	} else {
		b.WriteString("Checked once per run\n")
	}
	fmt.Fprintf(&b, "Listings seen: %d\n", st.Seen)
	fmt.Fprintf(&b, "Recipients: %d configured, %d subscribed\n", st.Receivers, st.Subscribers)
	if st.Receiving {
		b.WriteString("\nThis chat receives new listings.")
	} else {
		b.WriteString("\nThis chat is not subscribed. Use /subscribe.")
	}
	return b.String()
}

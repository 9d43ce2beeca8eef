package connpool

import "time"

// timeInPast forces a blocked Read to return immediately with a timeout
// error, used to interrupt an idle connection's watch goroutine during
// checkout. noDeadline (the zero Time) clears it again before the
// connection is handed to the caller.
var timeInPast = time.Unix(1, 0)

var noDeadline = time.Time{}

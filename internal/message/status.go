package message

import "net/http"

// legacyReasons supplements net/http.StatusText with the handful of codes
// the original pyrox model_util reason-phrase table carried that the Go
// standard library omits (SPEC_FULL §C.5).
var legacyReasons = map[int]string{
	420: "Enhance Your Calm",
	430: "Request Header Fields Too Large",
	450: "Blocked by Windows Parental Controls",
	498: "Invalid Token",
	499: "Token Required",
	599: "Network Connect Timeout Error",
}

// StatusText returns the default reason phrase for an HTTP status code, or
// "" if none is known. Checked against net/http's table first since it is
// the authoritative, actively-maintained source; legacyReasons only fills
// gaps.
func StatusText(code int) string {
	if t := http.StatusText(code); t != "" {
		return t
	}
	return legacyReasons[code]
}

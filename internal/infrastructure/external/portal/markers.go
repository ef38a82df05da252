package portal

import (
	"bytes"
)

// robotMarkers are substrings the portal shows instead of the requested page
// once a session is no longer trusted. Matching is case-insensitive.
var robotMarkers = [][]byte{
	[]byte("af sikkerhedsmæssige årsager"),
	[]byte("bevise at du ikke er en robot"),
	[]byte("for security reasons"),
	[]byte("prove you are not a robot"),
	[]byte("captcha"),
}

// DetectRobotMarker returns the first marker found in body.
func DetectRobotMarker(body []byte) (string, bool) {
	lower := bytes.ToLower(body)
	for _, m := range robotMarkers {
		if bytes.Contains(lower, m) {
			return string(m), true
		}
	}
	return "", false
}

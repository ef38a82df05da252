package portal

import (
	"net/url"
)

// SchedulePath returns the student schedule page path. An empty weekKey asks
// the portal for the current week.
func SchedulePath(schoolID, studentID, weekKey string) string {
	q := url.Values{}
	q.Set("type", "elev")
	q.Set("elevid", studentID)
	if weekKey != "" {
		q.Set("week", weekKey)
	}
	return "/lectio/" + url.PathEscape(schoolID) + "/SkemaNy.aspx?" + q.Encode()
}

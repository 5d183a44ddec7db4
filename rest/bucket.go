package rest

import "strings"

// majorParams are the route families whose leading ID gets its own bucket.
var majorParams = map[string]bool{
	"channels": true,
	"guilds":   true,
	"webhooks": true,
}

// BucketKey returns the rate limit bucket for a request.
//
// Routes under /channels/{id}, /guilds/{id} and /webhooks/{id} share a
// bucket per method and ID, so "GET /channels/123/messages" and
// "GET /channels/123" map to "GET:channels:123". Every other route is its
// own bucket keyed by method and path. Query strings are ignored.
func BucketKey(method, endpoint string) string {
	method = strings.ToUpper(method)
	path := endpoint
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	parts := strings.SplitN(path[1:], "/", 3)
	if len(parts) >= 2 && majorParams[parts[0]] && isDigits(parts[1]) {
		return method + ":" + parts[0] + ":" + parts[1]
	}
	return method + ":" + path
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

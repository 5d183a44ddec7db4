// Package rest is the rate limited HTTP side of the Fluxer API.
//
// Every request is routed by [BucketKey] to a [SequentialHandler] that runs
// the requests of its bucket one at a time, in arrival order, and waits out
// the bucket's limit before sending. A [GlobalLimit] shared by all buckets
// blocks every request while an account-wide limit is in effect.
//
// Rate limited responses are retried after their Retry-After delay, up to
// the retry budget, and 5xx responses are retried with a linear backoff.
// Other failures are returned as an [*APIError].
//
//	c := rest.NewClient(token)
//	var me struct {
//	    ID       string `json:"id"`
//	    Username string `json:"username"`
//	}
//	if err := c.Get(ctx, "/users/@me", &me); err != nil {
//	    var apiErr *rest.APIError
//	    if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
//	        log.Fatal("bad token")
//	    }
//	    return err
//	}
package rest

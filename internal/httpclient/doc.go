// Package httpclient builds the HTTP clients used by the sampler and the perf
// target.
//
// [NewClient] returns a client with a pooled transport. Passing
// [WithTimeline] wraps the transport so that every request is recorded as a
// resource entry:
//
//	client := httpclient.NewClient(10*time.Second, httpclient.WithTimeline(tl))
//	data, status, err := httpclient.FetchJSON(ctx, client, externalURL)
//
// [FetchJSON] accepts any status code as long as the body is valid JSON.
package httpclient

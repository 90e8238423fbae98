// Package runner provides the sampling harness.
//
// A [Runner] drives a [Target] through two sequential phases:
//   - Warmup: trigger only, nothing is drained
//   - Sampling: trigger, then drain, then tag every drained entry with the run
//     info the target reported (or the harness's own [artifact.RunInfo])
//
// and then summarizes the records and hands them to an [artifact.Writer].
//
// # Basic Usage
//
//	target, err := runner.NewHTTPTarget(client, "http://localhost:3000", "/data", "/perf-entries")
//	if err != nil {
//		return err
//	}
//	r := runner.New(runner.Options{
//		Warmup:  3,
//		Samples: 10,
//		Delay:   200 * time.Millisecond,
//		Target:  target,
//		RunInfo: info,
//		Writer:  artifact.NewFSWriter("out", log),
//	})
//	res, err := r.Run(ctx)
//
// # Phases
//
// [Runner.Phase] moves Idle → Warmup → Sampling → Finalized, or to Failed
// when any iteration or the final write errors. A failed run persists nothing.
//
// # Middleware
//
// [WithRetry] retries failed triggers. Drains are never retried.
//
// # Error Handling
//
// Target failures are returned as [*UpstreamError]; non-2xx responses unwrap
// to [*HTTPError]:
//
//	var httpErr *runner.HTTPError
//	if errors.As(err, &httpErr) {
//		fmt.Printf("Status: %d, Body: %s\n", httpErr.StatusCode, httpErr.Body)
//	}
package runner

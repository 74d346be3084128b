/*
Package resilience provides the circuit breaker placed in front of remote
dependencies: the drive storage service and the session API.

A breaker starts closed. Failures reported by Settings.Healthy accumulate
until Settings.ShouldTrip opens it; while open every call fails with
ErrCircuitOpen. After Settings.Cooldown it admits Settings.Trials trial calls
(half-open). Enough consecutive successes close it again and any trial
failure reopens it.

	breaker := resilience.New("drive", resilience.Settings{
		Cooldown: 30 * time.Second,
		Healthy: func(err error) bool {
			return err == nil || storage.IsNotFound(err)
		},
	})

	resp, err := resilience.Do(breaker, func() (*resty.Response, error) {
		return req.Get(url)
	})

Each transition starts a new epoch. Outcomes of calls admitted in an older
epoch are ignored, so a slow request cannot reopen a breaker that already
recovered.
*/
package resilience

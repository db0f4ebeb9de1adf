// Package compute triggers long-running map computations on the backend and
// follows their progress.
//
// A Runner allows one job at a time. Starting a job marks it running before any
// request is sent, opens the progress indicator and starts polling the ping
// endpoint every poll interval. The trigger request itself runs in the
// background: a successful answer reloads the map objects, anything else is
// logged. Either way the indicator is closed and the running flag cleared.
package compute

// Package process supervises a single node daemon.
//
// A Supervisor moves through a small state machine:
//
//	unconfigured -> configured -> starting -> running -> stopping -> stopped
//
// Configure sets the binary and the static flags. Start derives the
// argument vector from a geth.Options set, spawns the daemon and streams
// its stdout and stderr line by line to labelled observers. The first
// stderr line containing the ready marker fires the start trigger; an exit
// with a code other than 0 or 2 fires it with an *ExitError instead.
//
// Stop sends SIGINT and calls back once the daemon has closed. It also
// invalidates the configuration, so Configure must be called again before
// the next Start.
//
// Unless PersistOnExit is set, a daemon is stopped when the host receives
// SIGINT, SIGTERM or SIGHUP, or when the host calls RunExitHooks.
//
// Example:
//
//	sup := process.New()
//	sup.Configure(process.Config{BinaryPath: "geth"})
//	opts := geth.NewOptions().Set("networkid", 1).Set("rpcport", 8545)
//	_, err := sup.Start(opts, nil, func(err error, h *process.Handle) {
//	    if err != nil {
//	        log.Printf("node failed: %v", err)
//	        return
//	    }
//	    log.Printf("node %d ready", h.PID)
//	})
//	defer process.RunExitHooks()
package process

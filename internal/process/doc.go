// Package process provides subprocess lifecycle management.
//
// The Manager supervises a single external process (the shared adb
// server in TVBridge): starting it in its own process group, capturing
// its output into the structured log, restarting it on unexpected exit
// with a bounded number of attempts, and stopping it gracefully with a
// SIGTERM/SIGKILL escalation.
//
// Usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "adb-server",
//	    Binary:           "/usr/bin/adb",
//	    Args:             []string{"-P", "5037", "server", "nodaemon"},
//	    RestartOnFailure: true,
//	})
//	mgr.SetLogger(logger)
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process

//go:build linux

package relay

import "golang.org/x/sys/unix"

// raiseJitterThreadPriority best-effort raises the calling OS thread's
// scheduling priority, one step below the priority requested via --rtprio,
// matching spec.md §5's "relative priority: jitter < others, one step lower".
// Missing CAP_SYS_NICE is expected in most deployments and is not fatal.
func (s *Server) raiseJitterThreadPriority() {
	if s.cfg.RTPrio <= 0 {
		return
	}
	niceness := -(s.cfg.RTPrio - 1)
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, niceness); err != nil {
		s.log.Warn().Err(err).Int("rtprio", s.cfg.RTPrio).Msg("failed to raise jitter thread priority")
	}
}

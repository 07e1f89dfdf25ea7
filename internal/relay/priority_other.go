//go:build !linux

package relay

// raiseJitterThreadPriority is a no-op outside Linux: there is no portable
// equivalent to rtprio/nice-level thread scheduling we can reach without cgo.
func (s *Server) raiseJitterThreadPriority() {
	if s.cfg.RTPrio > 0 {
		s.log.Debug().Msg("rtprio requested but thread priority tuning is only implemented on linux")
	}
}

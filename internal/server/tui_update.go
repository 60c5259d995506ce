// ABOUTME: TUI update helper for the server
// ABOUTME: Snapshots hosted timing objects and pushes them to the TUI
package server

// updateTUI snapshots every hosted timing object's extrapolated vector and
// subscriber count and sends it to the TUI, if one is running.
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.objects))
	objs := make([]*timingObject, 0, len(s.objects))
	for id, o := range s.objects {
		ids = append(ids, id)
		objs = append(objs, o)
	}
	s.mu.Unlock()

	now := nowSeconds()
	infos := make([]ObjectInfo, 0, len(objs))
	for i, o := range objs {
		v, subs := o.snapshot(now)
		infos = append(infos, ObjectInfo{
			ID:           ids[i],
			Position:     v.Position,
			Velocity:     v.Velocity,
			Acceleration: v.Acceleration,
			Subscribers:  len(subs),
		})
	}

	s.tui.Update(ServerStatus{
		Addr:    s.cfg.Addr,
		Delta:   s.cfg.Delta,
		Objects: infos,
	})
}

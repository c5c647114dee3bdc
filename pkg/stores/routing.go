package stores

import (
	"sync"
	"sync/atomic"
)

// ExternalMode is the state of the external store.
type ExternalMode int32

const (
	ModeDisabled ExternalMode = iota
	// ModeConnecting is held only while a writer owns ActiveState.
	ModeConnecting
	ModeActive
)

func (m ExternalMode) String() string {
	switch m {
	case ModeConnecting:
		return "connecting"
	case ModeActive:
		return "active"
	default:
		return "disabled"
	}
}

// ActiveState records which pool receives general traffic.
//
// Readers use the atomic getters and never block. Writers (connect,
// switch, close) must hold the lock returned by Lock; handles are replaced
// by pointer swap so a reader never sees a half-built or half-closed
// handle through the state itself.
//
// Invariant: active == local whenever mode is ModeDisabled. While a
// replacement external pool is connecting the previous one keeps serving.
type ActiveState struct {
	writer   sync.Mutex
	local    atomic.Pointer[Handle]
	external atomic.Pointer[Handle]
	active   atomic.Pointer[Handle]
	mode     atomic.Int32
}

// Lock serializes state writers.
func (s *ActiveState) Lock() { s.writer.Lock() }

// Unlock releases the writer lock.
func (s *ActiveState) Unlock() { s.writer.Unlock() }

// Local returns the local handle, or nil before the first successful connect.
func (s *ActiveState) Local() *Handle { return s.local.Load() }

// External returns the attached external handle, or nil.
func (s *ActiveState) External() *Handle { return s.external.Load() }

// Active returns the handle that receives general traffic.
func (s *ActiveState) Active() *Handle { return s.active.Load() }

// Mode returns the external store mode.
func (s *ActiveState) Mode() ExternalMode { return ExternalMode(s.mode.Load()) }

// UsingExternal reports whether general traffic goes to the external store.
func (s *ActiveState) UsingExternal() bool {
	h := s.active.Load()
	return h != nil && h.Target() == TargetExternal
}

// setLocal installs the local handle and returns the one it replaced.
// Caller holds the writer lock.
func (s *ActiveState) setLocal(h *Handle) *Handle {
	old := s.local.Swap(h)
	if s.Mode() == ModeDisabled {
		s.active.Store(h)
	}
	return old
}

// beginConnecting marks an attach in progress. Caller holds the writer lock.
func (s *ActiveState) beginConnecting() {
	s.mode.Store(int32(ModeConnecting))
}

// activateExternal makes h the active handle and returns the external
// handle it replaced. Caller holds the writer lock.
func (s *ActiveState) activateExternal(h *Handle) *Handle {
	old := s.external.Swap(h)
	s.active.Store(h)
	s.mode.Store(int32(ModeActive))
	return old
}

// deactivateExternal routes general traffic back to local and returns the
// detached external handle for the caller to close. Caller holds the
// writer lock.
func (s *ActiveState) deactivateExternal() *Handle {
	s.active.Store(s.local.Load())
	s.mode.Store(int32(ModeDisabled))
	return s.external.Swap(nil)
}

// clear drops every handle and returns them for closing. Caller holds the
// writer lock.
func (s *ActiveState) clear() (local, external *Handle) {
	s.mode.Store(int32(ModeDisabled))
	s.active.Store(nil)
	return s.local.Swap(nil), s.external.Swap(nil)
}

// Router picks the pool for a classified statement.
type Router struct {
	state *ActiveState
}

// NewRouter returns a router reading from state.
func NewRouter(state *ActiveState) *Router {
	return &Router{state: state}
}

// SelectTarget applies, in order: force local, identity stays local,
// otherwise the active handle. It reads the state on every call.
func (r *Router) SelectTarget(class Class, forceLocal bool) (*Handle, error) {
	var h *Handle
	switch {
	case forceLocal, class.Identity():
		h = r.state.Local()
	default:
		h = r.state.Active()
	}
	if h == nil {
		return nil, ErrNotConnected
	}
	return h, nil
}

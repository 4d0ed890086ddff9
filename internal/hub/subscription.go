package hub

import "slices"

// Subscription is the set of channels a connection receives. "All channels"
// is an explicit mode rather than an empty set, so removing the last named
// channel never silently turns into a subscription to everything.
type Subscription struct {
	all      bool
	channels map[string]struct{}
}

// All reports whether the subscription covers every channel.
func (s *Subscription) All() bool { return s.all }

// Matches reports whether a message on channel should be delivered.
func (s *Subscription) Matches(channel string) bool {
	if s.all {
		return true
	}
	_, ok := s.channels[channel]
	return ok
}

// SetAll switches to all-channels mode. Named channels are kept so that a
// later Clear of the mode does not lose them.
func (s *Subscription) SetAll() { s.all = true }

// Add subscribes to the named channels and reports which were new.
func (s *Subscription) Add(names ...string) []string {
	if s.channels == nil {
		s.channels = make(map[string]struct{}, len(names))
	}
	var added []string
	for _, n := range names {
		if _, ok := s.channels[n]; !ok {
			s.channels[n] = struct{}{}
			added = append(added, n)
		}
	}
	return added
}

// Remove drops the named channels and reports which were present. Names not
// subscribed are ignored. All-channels mode is unaffected.
func (s *Subscription) Remove(names ...string) []string {
	var removed []string
	for _, n := range names {
		if _, ok := s.channels[n]; ok {
			delete(s.channels, n)
			removed = append(removed, n)
		}
	}
	return removed
}

// Clear drops all-channels mode and every named channel, returning the names
// that were subscribed.
func (s *Subscription) Clear() []string {
	names := s.Channels()
	s.all = false
	s.channels = nil
	return names
}

// Channels returns the explicitly named channels, sorted.
func (s *Subscription) Channels() []string {
	names := make([]string, 0, len(s.channels))
	for n := range s.channels {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

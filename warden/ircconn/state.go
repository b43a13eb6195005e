package ircconn

import (
	"slices"
	"strings"
	"sync"

	"github.com/ircwarden/warden/warden/engine"
)

// Membership prefixes, highest rank first, and the channel modes that grant them.
const (
	prefixChars = "~&@%+"
	prefixModes = "qaohv"
)

func modePrefix(mode byte) (byte, bool) {
	i := strings.IndexByte(prefixModes, mode)
	if i < 0 {
		return 0, false
	}
	return prefixChars[i], true
}

// Channel modes other than prefixes that take an argument. 'l' only takes one when set.
func modeTakesArg(mode byte, adding bool) bool {
	switch mode {
	case 'b', 'e', 'I', 'k', 'f', 'j':
		return true
	case 'l':
		return adding
	}
	return false
}

func isChannel(target string) bool {
	return target != "" && strings.ContainsRune("#&!+", rune(target[0]))
}

func channelKey(channel string) string {
	return strings.ToLower(channel)
}

// Splits a NAMES entry such as "@+alice" or "@alice!a@example.net" (userhost-in-names) in
// to its prefixes, nick and host.
func splitName(entry string) (prefixes, nick, host string) {
	i := 0
	for i < len(entry) && strings.IndexByte(prefixChars, entry[i]) >= 0 {
		i++
	}
	prefixes, nick = entry[:i], entry[i:]
	if bang := strings.IndexByte(nick, '!'); bang >= 0 {
		if at := strings.LastIndexByte(nick, '@'); at > bang {
			host = nick[at+1:]
		}
		nick = nick[:bang]
	}
	return prefixes, nick, host
}

type member struct {
	nick     string
	prefixes string
}

type channelState struct {
	name    string
	members map[string]*member
}

// What the client knows about the channels it is in.
type networkState struct {
	mu       sync.RWMutex
	channels map[string]*channelState
}

func newNetworkState() *networkState {
	return &networkState{channels: make(map[string]*channelState)}
}

func (s *networkState) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[string]*channelState)
}

// Called when we join a channel; forgets any stale member list.
func (s *networkState) addChannel(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channelKey(channel)] = &channelState{name: channel, members: make(map[string]*member)}
}

func (s *networkState) dropChannel(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelKey(channel))
}

func (s *networkState) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c.name)
	}
	slices.Sort(out)
	return out
}

func (s *networkState) join(channel, nick, prefixes string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[channelKey(channel)]
	if !ok {
		return
	}
	key := engine.NormalizeNick(nick)
	if m, ok := c.members[key]; ok {
		m.nick = nick
		m.prefixes = mergePrefixes(m.prefixes, prefixes)
		return
	}
	c.members[key] = &member{nick: nick, prefixes: mergePrefixes("", prefixes)}
}

func (s *networkState) part(channel, nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.channels[channelKey(channel)]; ok {
		delete(c.members, engine.NormalizeNick(nick))
	}
}

// Removes nick from every channel; returns the channels they were in.
func (s *networkState) quit(nick string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := engine.NormalizeNick(nick)
	var out []string
	for _, c := range s.channels {
		if _, ok := c.members[key]; ok {
			delete(c.members, key)
			out = append(out, c.name)
		}
	}
	slices.Sort(out)
	return out
}

// Renames a member everywhere, keeping prefixes; returns the channels they are in.
func (s *networkState) rename(oldNick, newNick string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldKey, newKey := engine.NormalizeNick(oldNick), engine.NormalizeNick(newNick)
	var out []string
	for _, c := range s.channels {
		m, ok := c.members[oldKey]
		if !ok {
			continue
		}
		delete(c.members, oldKey)
		m.nick = newNick
		c.members[newKey] = m
		out = append(out, c.name)
	}
	slices.Sort(out)
	return out
}

func (s *networkState) setPrefix(channel, nick string, prefix byte, adding bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[channelKey(channel)]
	if !ok {
		return
	}
	m, ok := c.members[engine.NormalizeNick(nick)]
	if !ok {
		return
	}
	if adding {
		m.prefixes = mergePrefixes(m.prefixes, string(prefix))
	} else {
		m.prefixes = strings.ReplaceAll(m.prefixes, string(prefix), "")
	}
}

// Returns the member's prefixes and whether they are in the channel at all.
func (s *networkState) prefixes(channel, nick string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[channelKey(channel)]
	if !ok {
		return "", false
	}
	m, ok := c.members[engine.NormalizeNick(nick)]
	if !ok {
		return "", false
	}
	return m.prefixes, true
}

func (s *networkState) inChannel(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[channelKey(channel)]
	return ok
}

// Union of two prefix sets, kept in rank order.
func mergePrefixes(a, b string) string {
	var sb strings.Builder
	for i := 0; i < len(prefixChars); i++ {
		p := prefixChars[i]
		if strings.IndexByte(a, p) >= 0 || strings.IndexByte(b, p) >= 0 {
			sb.WriteByte(p)
		}
	}
	return sb.String()
}

func roleFlags(prefixes string) engine.RoleFlags {
	return engine.RoleFlags{
		IsElevated:    strings.ContainsAny(prefixes, "~&@"),
		IsSubElevated: strings.Contains(prefixes, "%"),
		IsVoiced:      strings.Contains(prefixes, "+"),
	}
}

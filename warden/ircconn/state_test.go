package ircconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitName(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		entry    string
		prefixes string
		nick     string
		host     string
	}{
		{"alice", "", "alice", ""},
		{"@alice", "@", "alice", ""},
		{"@+bob", "@+", "bob", ""},
		{"~carl!c@example.net", "~", "carl", "example.net"},
		{"dina!d@user@weird.host", "", "dina", "weird.host"},
	}
	for _, tc := range tests {
		p, n, h := splitName(tc.entry)
		assert.Equal(tc.prefixes, p, tc.entry)
		assert.Equal(tc.nick, n, tc.entry)
		assert.Equal(tc.host, h, tc.entry)
	}
}

func TestMergePrefixes(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("@+", mergePrefixes("+", "@"))
	assert.Equal("~%", mergePrefixes("%~", "%"))
	assert.Equal("", mergePrefixes("", ""))
}

func TestNetworkState(t *testing.T) {
	assert := assert.New(t)
	s := newNetworkState()

	// not in the channel yet: ignored
	s.join("#francophonie", "alice", "@")
	_, ok := s.prefixes("#francophonie", "alice")
	assert.False(ok)

	s.addChannel("#Francophonie")
	s.addChannel("#adultes")
	assert.Equal([]string{"#Francophonie", "#adultes"}, s.Channels())
	assert.True(s.inChannel("#francophonie"))

	s.join("#francophonie", "Alice", "+")
	s.join("#francophonie", "bob", "")
	s.join("#adultes", "bob", "")
	s.setPrefix("#francophonie", "alice", '@', true)
	p, ok := s.prefixes("#FRANCOPHONIE", "ALICE")
	assert.True(ok)
	assert.Equal("@+", p)

	s.setPrefix("#francophonie", "alice", '+', false)
	p, _ = s.prefixes("#francophonie", "alice")
	assert.Equal("@", p)

	assert.Equal([]string{"#Francophonie", "#adultes"}, s.rename("bob", "Bobby"))
	_, ok = s.prefixes("#adultes", "bob")
	assert.False(ok)
	_, ok = s.prefixes("#adultes", "bobby")
	assert.True(ok)

	s.part("#adultes", "bobby")
	assert.Equal([]string{"#Francophonie"}, s.quit("bobby"))

	s.dropChannel("#francophonie")
	assert.Equal([]string{"#adultes"}, s.Channels())
	s.reset()
	assert.Empty(s.Channels())
}

func TestRoleFlags(t *testing.T) {
	assert := assert.New(t)

	f := roleFlags("@")
	assert.True(f.IsElevated)
	assert.True(f.IsAdmin())
	assert.False(f.IsVoiced)

	f = roleFlags("~")
	assert.True(f.IsElevated)

	f = roleFlags("%+")
	assert.False(f.IsElevated)
	assert.True(f.IsSubElevated)
	assert.True(f.IsVoiced)

	assert.False(roleFlags("").IsAdmin())
}

func TestModeHelpers(t *testing.T) {
	assert := assert.New(t)

	p, ok := modePrefix('o')
	assert.True(ok)
	assert.Equal(byte('@'), p)
	p, _ = modePrefix('h')
	assert.Equal(byte('%'), p)
	_, ok = modePrefix('b')
	assert.False(ok)

	assert.True(modeTakesArg('b', false))
	assert.True(modeTakesArg('l', true))
	assert.False(modeTakesArg('l', false))
	assert.False(modeTakesArg('m', true))

	assert.True(isChannel("#x"))
	assert.True(isChannel("&local"))
	assert.False(isChannel("alice"))
	assert.False(isChannel(""))
}

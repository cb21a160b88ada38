package main

import (
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNickServServer(t *testing.T) *Server {
	t.Helper()

	s := newTestServer(t)
	s.Config.Credentials["alice"] = sha512.Sum512([]byte("secret"))

	return s
}

func TestNickServIdentify(t *testing.T) {
	s := newNickServServer(t)
	c := registerTestClient(t, s, "alice")

	s.handleNS(c, []string{"IDENTIFY", "wrong"})
	assert.Equal(t, []string{
		":NickServ!nickserv@virtual NOTICE alice :Invalid password!",
		":NickServ!nickserv@virtual NOTICE alice :Ensure that your password" +
			" is spelled correctly (it is case-sensitive).",
	}, drainLines(c))
	assert.False(t, c.UserState().Identified)

	s.handleNS(c, []string{"IDENTIFY", "secret"})
	assert.Equal(t, []string{
		":NickServ!nickserv@virtual NOTICE alice :You have successfully" +
			" identified!",
	}, drainLines(c))
	assert.True(t, c.UserState().Identified)

	s.handleNS(c, []string{"IDENTIFY", "secret"})
	assert.Equal(t, []string{
		":NickServ!nickserv@virtual NOTICE alice :You are already identified!",
	}, drainLines(c))
}

func TestNickServIdentifyErrors(t *testing.T) {
	s := newNickServServer(t)
	c := registerTestClient(t, s, "bob")

	s.handleNS(c, []string{"IDENTIFY"})
	assert.Equal(t, []string{
		":NickServ!nickserv@virtual NOTICE bob :You need to specify your" +
			" password as the first parameter!",
	}, drainLines(c))

	// bob has no stored credentials.
	s.handleNS(c, []string{"IDENTIFY", "secret"})
	assert.Equal(t, []string{
		":NickServ!nickserv@virtual NOTICE bob :No password is known for" +
			" this nickname!",
		":NickServ!nickserv@virtual NOTICE bob :Ensure that your nickname" +
			" is spelled correctly.",
	}, drainLines(c))
}

func TestNickServUnknownCommand(t *testing.T) {
	s := newNickServServer(t)
	c := registerTestClient(t, s, "bob")

	s.handleNS(c, []string{"FROBNICATE"})
	assert.Equal(t, []string{
		":NickServ!nickserv@virtual NOTICE bob :Invalid command." +
			" Use /NS HELP for a command listing.",
	}, drainLines(c))

	s.handleNS(c, nil)
	assert.Equal(t, []string{
		":NickServ!nickserv@virtual NOTICE bob :Invalid command." +
			" Use /NS HELP for a command listing.",
	}, drainLines(c))
}

func TestNickServHelp(t *testing.T) {
	s := newNickServServer(t)
	c := registerTestClient(t, s, "bob")

	s.handleNS(c, []string{"HELP"})
	lines := drainLines(c)
	require.NotEmpty(t, lines)
	assert.Equal(t,
		":NickServ!nickserv@virtual NOTICE bob :***** NickServ Help *****",
		lines[0])
	assert.Equal(t,
		":NickServ!nickserv@virtual NOTICE bob :***** End of Help *****",
		lines[len(lines)-1])

	// Commands are matched case-insensitively.
	s.handleNS(c, []string{"help", "identify"})
	lines = drainLines(c)
	require.NotEmpty(t, lines)
	assert.Equal(t,
		":NickServ!nickserv@virtual NOTICE bob :Help for IDENTIFY:",
		lines[1])
}

func TestNickServGhost(t *testing.T) {
	s := newNickServServer(t)

	stale := registerTestClient(t, s, "alice")
	drainLines(stale)

	c := registerTestClient(t, s, "bob")

	s.handleNS(c, []string{"GHOST", "alice"})
	assert.Equal(t, []string{
		":NickServ!nickserv@virtual NOTICE bob :Syntax:" +
			" GHOST <nickname> <password>",
	}, drainLines(c))

	s.handleNS(c, []string{"GHOST", "alice", "wrong"})
	assert.Equal(t, []string{
		":NickServ!nickserv@virtual NOTICE bob :Invalid password!",
		":NickServ!nickserv@virtual NOTICE bob :Ensure that your password" +
			" is spelled correctly (it is case-sensitive).",
	}, drainLines(c))

	s.handleNS(c, []string{"GHOST", "alice", "secret"})
	assert.Equal(t, []string{
		":NickServ!nickserv@virtual NOTICE bob :alice has been ghosted.",
	}, drainLines(c))

	assert.True(t, stale.shutdownDone)
	assert.NotContains(t, s.Nicknames, "alice")

	lines := drainLines(stale)
	require.NotEmpty(t, lines)
	assert.Equal(t, "ERROR :Closing Link: alice (Ghosted by bob)",
		lines[len(lines)-1])

	// Nobody holds the nickname anymore.
	s.handleNS(c, []string{"GHOST", "alice", "secret"})
	assert.Equal(t, []string{
		":NickServ!nickserv@virtual NOTICE bob :This nickname is not in use.",
	}, drainLines(c))
}

func TestNickServGhostRejectsServices(t *testing.T) {
	s := newNickServServer(t)
	s.Config.Credentials["nickserv"] = sha512.Sum512([]byte("secret"))

	c := registerTestClient(t, s, "bob")

	s.handleNS(c, []string{"GHOST", "NickServ", "secret"})
	assert.Equal(t, []string{
		":NickServ!nickserv@virtual NOTICE bob :You cannot ghost a service.",
	}, drainLines(c))
}

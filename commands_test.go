package main

import (
	"crypto/sha512"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/horgh/irc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConfig builds a configuration the way LoadConfig would, without
// touching the filesystem. Dev is a members-only channel, Lounge additionally
// admits observers.
func newTestConfig() *Config {
	dev := NewChannel("Dev", "dev talk")
	dev.AllowedUsers = map[string]struct{}{"alice": {}, "bob": {}}

	lounge := NewChannel("Lounge", "")
	lounge.AllowedUsers = map[string]struct{}{"alice": {}}
	lounge.AllowObservers = true

	return &Config{
		ServerName:  "irc.example.com",
		Motd:        []string{"Hello"},
		Channels:    []*Channel{dev, lounge},
		Credentials: make(credentialTable),
		IOWait:      time.Minute,

		RegistrationTimeout: registrationTimeout,
		IdentifyTimeout:     identifyTimeout,
		PingInterval:        pingInterval,
		PingTimeout:         pingTimeout,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer(newTestConfig())
	s.onlineDate = time.Now().Format(time.ANSIC)

	require.NoError(t, s.AddService(NewChanServ(s)))
	require.NoError(t, s.AddService(NewNickServ(s)))

	return s
}

// newTestClient creates a connected network client whose reader and writer
// goroutines are not running. Everything it is sent stays in its write channel
// for the test to inspect.
func newTestClient(t *testing.T, s *Server) *NetworkClient {
	t.Helper()

	conn, remote := net.Pipe()

	s.nextClientID++
	c := NewNetworkClient(s, s.nextClientID, conn)
	c.initialized.Store(true)

	s.networkClients[c] = struct{}{}
	c.restartRegistrationTimer()

	t.Cleanup(func() {
		c.cancelTimer()
		_ = conn.Close()
		_ = remote.Close()
	})

	return c
}

// registerTestClient runs a client through NICK and USER and discards the
// welcome burst.
func registerTestClient(t *testing.T, s *Server, nick string) *NetworkClient {
	t.Helper()

	c := newTestClient(t, s)
	s.handleNICK(c, []string{nick})
	s.handleUSER(c, nil)
	drainLines(c)

	return c
}

// drainLines empties a client's write channel, stripping the line endings.
func drainLines(c *NetworkClient) []string {
	var lines []string
	for {
		select {
		case line, ok := <-c.WriteChan:
			if !ok {
				return lines
			}
			lines = append(lines, strings.TrimSuffix(line, "\r\n"))
		default:
			return lines
		}
	}
}

func TestWelcome(t *testing.T) {
	s := newTestServer(t)
	c := newTestClient(t, s)

	s.handleNICK(c, []string{"alice"})
	assert.Empty(t, drainLines(c), "nothing before USER")

	s.handleUSER(c, nil)
	assert.Equal(t, []string{
		":irc.example.com 001 alice :Welcome to the irc.example.com" +
			" Internet Relay Chat Network alice",
		":irc.example.com 002 alice :Your host is irc.example.com," +
			" running version " + versionID,
		":irc.example.com 003 alice :This server was created " + versionDate,
		":irc.example.com 004 alice irc.example.com " + versionID + " iv i",
		":irc.example.com 375 alice :- irc.example.com Message of the day - ",
		":irc.example.com 372 alice :- Hello",
		":irc.example.com 376 alice :End of MOTD command.",
		":alice MODE alice :+i",
	}, drainLines(c))
}

func TestWelcomeProtectedNickname(t *testing.T) {
	s := newTestServer(t)
	s.Config.Credentials["guard"] = sha512.Sum512([]byte("secret"))

	c := newTestClient(t, s)
	s.handleNICK(c, []string{"guard"})
	s.handleUSER(c, nil)

	lines := drainLines(c)
	require.Len(t, lines, 11)
	assert.Equal(t, []string{
		":irc.example.com NOTICE guard :This nickname is protected.",
		":irc.example.com NOTICE guard :Please identify with your password" +
			" in the next 240 seconds or you will be disconnected.",
		":irc.example.com NOTICE guard :Use the command" +
			" /NS IDENTIFY <password> to do so.",
	}, lines[8:])
}

func TestJoin(t *testing.T) {
	s := newTestServer(t)
	c := registerTestClient(t, s, "alice")

	s.handleJOIN(c, []string{"#Dev"})
	assert.Equal(t, []string{
		":alice!alice@network JOIN #Dev",
		":ChanServ!chanserv@virtual MODE #Dev +v alice",
		":irc.example.com 332 alice #dev :dev talk",
		":irc.example.com 353 alice = #dev :+ChanServ +alice",
		":irc.example.com 366 alice #dev :End of NAMES list",
	}, drainLines(c))

	// Joining a second time is silently ignored.
	s.handleJOIN(c, []string{"#Dev"})
	assert.Empty(t, drainLines(c))
}

func TestJoinErrors(t *testing.T) {
	s := newTestServer(t)

	unregistered := newTestClient(t, s)
	s.handleJOIN(unregistered, []string{"#Dev"})
	assert.Empty(t, drainLines(unregistered))

	c := registerTestClient(t, s, "alice")

	s.handleJOIN(c, nil)
	assert.Equal(t, []string{
		":irc.example.com 461 alice JOIN :Not enough parameters",
	}, drainLines(c))

	s.handleJOIN(c, []string{"#nope"})
	assert.Equal(t, []string{
		":irc.example.com 403 alice #nope :No such channel",
	}, drainLines(c))
}

func TestJoinObserver(t *testing.T) {
	s := newTestServer(t)
	c := registerTestClient(t, s, "carol")

	s.handleJOIN(c, []string{"#Dev"})
	assert.Equal(t, []string{
		":irc.example.com NOTICE carol :You are not allowed to join" +
			" this channel!",
	}, drainLines(c))

	// Observers join without voice, so ChanServ stays quiet.
	s.handleJOIN(c, []string{"#Lounge"})
	assert.Equal(t, []string{
		":carol!carol@network JOIN #Lounge",
		":irc.example.com 331 carol #lounge :No topic is set",
		":irc.example.com 353 carol = #lounge :+ChanServ carol",
		":irc.example.com 366 carol #lounge :End of NAMES list",
	}, drainLines(c))

	s.handlePRIVMSG(c, []string{"#Lounge", "hi"})
	assert.Equal(t, []string{
		":irc.example.com 404 carol #lounge :Cannot send to channel",
	}, drainLines(c))
}

func TestJoinZeroPartsAllChannels(t *testing.T) {
	s := newTestServer(t)
	c := registerTestClient(t, s, "alice")

	s.handleJOIN(c, []string{"#Dev,#Lounge"})
	drainLines(c)
	require.Len(t, c.JoinedChannels(), 2)

	s.handleJOIN(c, []string{"0"})

	lines := drainLines(c)
	assert.Len(t, lines, 2)
	assert.Contains(t, lines, ":alice!alice@network PART #Dev")
	assert.Contains(t, lines, ":alice!alice@network PART #Lounge")
	assert.Empty(t, c.JoinedChannels())
}

func TestJoinRequiresIdentify(t *testing.T) {
	s := newTestServer(t)
	s.Config.Credentials["alice"] = sha512.Sum512([]byte("secret"))

	c := registerTestClient(t, s, "alice")

	s.handleJOIN(c, []string{"#Dev"})
	assert.Equal(t, []string{
		":irc.example.com NOTICE alice :Please identify first!",
	}, drainLines(c))
}

func TestChannelPrivmsg(t *testing.T) {
	s := newTestServer(t)
	alice := registerTestClient(t, s, "alice")
	bob := registerTestClient(t, s, "bob")

	s.handleJOIN(alice, []string{"#Dev"})
	s.handleJOIN(bob, []string{"#Dev"})
	drainLines(alice)
	drainLines(bob)

	s.handlePRIVMSG(alice, []string{"#Dev", "hello"})
	assert.Equal(t, []string{
		":alice!alice@network PRIVMSG #Dev :hello",
	}, drainLines(bob))

	// Not echoed back to the sender.
	assert.Empty(t, drainLines(alice))
}

func TestUserPrivmsg(t *testing.T) {
	s := newTestServer(t)
	alice := registerTestClient(t, s, "alice")
	bob := registerTestClient(t, s, "bob")

	s.handlePRIVMSG(alice, []string{"Bob", "hi"})
	assert.Equal(t, []string{
		":alice!alice@network PRIVMSG bob :hi",
	}, drainLines(bob))

	s.handlePRIVMSG(alice, []string{"nosuch", "hi"})
	assert.Equal(t, []string{
		":irc.example.com 401 alice nosuch :No such nick/channel",
	}, drainLines(alice))

	s.handlePRIVMSG(alice, nil)
	assert.Equal(t, []string{
		":irc.example.com 411 alice :No recipient given (PRIVMSG)",
	}, drainLines(alice))

	s.handlePRIVMSG(alice, []string{"bob"})
	assert.Equal(t, []string{
		":irc.example.com 412 alice :No text to send",
	}, drainLines(alice))
}

func TestNickErrors(t *testing.T) {
	s := newTestServer(t)
	registerTestClient(t, s, "alice")

	c := newTestClient(t, s)

	s.handleNICK(c, nil)
	assert.Equal(t, []string{
		":irc.example.com 431 * :No nickname given",
	}, drainLines(c))

	s.handleNICK(c, []string{"1bad"})
	assert.Equal(t, []string{
		":irc.example.com 432 * 1bad :Erroneous Nickname",
	}, drainLines(c))

	s.handleNICK(c, []string{"ALICE"})
	assert.Equal(t, []string{
		":irc.example.com 433 * ALICE :Nickname is already in use",
	}, drainLines(c))
}

func TestNickChange(t *testing.T) {
	s := newTestServer(t)
	c := registerTestClient(t, s, "alice")

	s.handleNICK(c, []string{"alicia"})
	assert.Equal(t, []string{
		":alice!alice@network NICK alicia",
	}, drainLines(c))
	assert.NotContains(t, s.Nicknames, "alice")
	assert.Contains(t, s.Nicknames, "alicia")

	// A pure capitalization change passes the in-use check, the client owns
	// the nickname itself.
	s.handleNICK(c, []string{"Alicia"})
	assert.Equal(t, []string{
		":alicia!alicia@network NICK Alicia",
	}, drainLines(c))
	assert.Equal(t, "Alicia", c.Nickname())

	// The exact same nickname again is silently ignored.
	s.handleNICK(c, []string{"Alicia"})
	assert.Empty(t, drainLines(c))
}

func TestNickChangeAfterJoinIsRefused(t *testing.T) {
	s := newTestServer(t)
	c := registerTestClient(t, s, "alice")

	s.handleJOIN(c, []string{"#Dev"})
	drainLines(c)

	s.handleNICK(c, []string{"alicia"})
	assert.Equal(t, []string{
		":irc.example.com NOTICE alice :You cannot change your nickname" +
			" after having joined a channel!",
	}, drainLines(c))
	assert.Equal(t, "alice", c.Nickname())
}

func TestNickChangeAfterIdentifyIsRefused(t *testing.T) {
	s := newTestServer(t)
	s.Config.Credentials["alice"] = sha512.Sum512([]byte("secret"))

	c := registerTestClient(t, s, "alice")
	c.SetUserState(UserState{NickSent: true, UserSent: true, Identified: true})

	s.handleNICK(c, []string{"alicia"})
	assert.Equal(t, []string{
		":irc.example.com NOTICE alice :You cannot change your nickname" +
			" after having identified!",
	}, drainLines(c))
}

func TestPart(t *testing.T) {
	s := newTestServer(t)
	alice := registerTestClient(t, s, "alice")
	bob := registerTestClient(t, s, "bob")

	s.handleJOIN(alice, []string{"#Dev"})
	s.handleJOIN(bob, []string{"#Dev"})
	drainLines(alice)
	drainLines(bob)

	s.handlePART(alice, nil)
	assert.Equal(t, []string{
		":irc.example.com 461 alice PART :Not enough parameters",
	}, drainLines(alice))

	s.handlePART(alice, []string{"#Dev"})
	assert.Equal(t, []string{
		":alice!alice@network PART #Dev",
	}, drainLines(alice))
	assert.Equal(t, []string{
		":alice!alice@network PART #Dev",
	}, drainLines(bob))
	assert.Empty(t, alice.JoinedChannels())

	s.handlePART(alice, []string{"#Dev"})
	assert.Equal(t, []string{
		":irc.example.com 442 alice #dev :You're not on that channel",
	}, drainLines(alice))

	s.handlePART(alice, []string{"#nope"})
	assert.Equal(t, []string{
		":irc.example.com 403 alice #nope :No such channel",
	}, drainLines(alice))
}

func TestTopic(t *testing.T) {
	s := newTestServer(t)
	c := registerTestClient(t, s, "alice")

	s.handleTOPIC(c, nil)
	assert.Equal(t, []string{
		":irc.example.com 461 alice TOPIC :Not enough parameters",
	}, drainLines(c))

	s.handleTOPIC(c, []string{"#Dev"})
	assert.Equal(t, []string{
		":irc.example.com 332 alice #dev :dev talk",
	}, drainLines(c))

	s.handleTOPIC(c, []string{"#Lounge"})
	assert.Equal(t, []string{
		":irc.example.com 331 alice #lounge :No topic is set",
	}, drainLines(c))

	s.handleTOPIC(c, []string{"#nope"})
	assert.Equal(t, []string{
		":irc.example.com 403 alice #nope :No such channel",
	}, drainLines(c))

	// Setting a topic is not supported and silently ignored.
	s.handleTOPIC(c, []string{"#Dev", "new topic"})
	assert.Empty(t, drainLines(c))
}

func TestNames(t *testing.T) {
	s := newTestServer(t)
	c := registerTestClient(t, s, "alice")

	// Without parameters there is no channel overview.
	s.handleNAMES(c, nil)
	assert.Empty(t, drainLines(c))

	// Unknown channels still get RPL_ENDOFNAMES.
	s.handleNAMES(c, []string{"#nope"})
	assert.Equal(t, []string{
		":irc.example.com 366 alice #nope :End of NAMES list",
	}, drainLines(c))
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	c := registerTestClient(t, s, "alice")

	s.handlePING(c, nil)
	assert.Equal(t, []string{
		":irc.example.com 461 alice PING :Not enough parameters",
	}, drainLines(c))

	s.handlePING(c, []string{"token"})
	assert.Equal(t, []string{
		":irc.example.com PONG irc.example.com :token",
	}, drainLines(c))
}

func TestQuit(t *testing.T) {
	s := newTestServer(t)
	alice := registerTestClient(t, s, "alice")
	bob := registerTestClient(t, s, "bob")

	s.handleJOIN(alice, []string{"#Dev"})
	s.handleJOIN(bob, []string{"#Dev"})
	drainLines(alice)
	drainLines(bob)

	s.handleQUIT(alice, []string{"bye"})

	// The quitting client sees its own QUIT, then the farewell.
	assert.Equal(t, []string{
		":alice!alice@network QUIT :Quit",
		"ERROR :Closing Link: alice (Quit)",
	}, drainLines(alice))
	assert.Equal(t, []string{
		":alice!alice@network QUIT :Quit",
	}, drainLines(bob))

	assert.NotContains(t, s.Nicknames, "alice")
	assert.NotContains(t, s.networkClients, alice)
	assert.NotContains(t, s.Channels["dev"].Members, Client(alice))
}

func TestVersionAndInfo(t *testing.T) {
	s := newTestServer(t)

	// Both work before registration.
	c := newTestClient(t, s)

	s.handleVERSION(c, nil)
	assert.Equal(t, []string{
		":irc.example.com 351 * " + versionID + ". irc.example.com :" +
			productName,
	}, drainLines(c))

	s.handleINFO(c, nil)
	lines := drainLines(c)
	require.Len(t, lines, 7)
	assert.Equal(t, ":irc.example.com 371 * :"+productName, lines[0])
	assert.Equal(t, ":irc.example.com 371 * :Birth Date: "+versionDate,
		lines[5])
	assert.Equal(t, ":irc.example.com 371 * :On-line since "+s.onlineDate,
		lines[6])
}

func TestUnknownCommandIgnored(t *testing.T) {
	s := newTestServer(t)
	c := registerTestClient(t, s, "alice")

	s.handleMessage(c, irc.Message{Command: "WHOIS", Params: []string{"bob"}})
	assert.Empty(t, drainLines(c))
}

func TestSendQueueOverflowDisconnects(t *testing.T) {
	s := newTestServer(t)
	c := registerTestClient(t, s, "alice")

	for i := 0; i <= sendQueueLength; i++ {
		c.SendIRCMessage(fmt.Sprintf("NOTICE alice :%d", i))
	}
	require.True(t, c.SendQueueExceeded)

	s.sweepOverflowedClients()
	assert.True(t, c.shutdownDone)
	assert.NotContains(t, s.networkClients, c)
}

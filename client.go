package main

import "fmt"

// UserState tracks the registration progress of a client. A client counts as
// registered once it has sent both NICK and USER. Identified is only ever set
// for clients whose nickname is bound to a password hash.
type UserState struct {
	NickSent   bool
	UserSent   bool
	Identified bool
}

func isUserRegistered(state UserState) bool {
	return state.NickSent && state.UserSent
}

// Client is anything holding a nickname in the registry: a network connection
// or an in-process service. Channel fan-outs, private messages, and numeric
// replies are all delivered through this capability set. Virtual clients
// discard numeric replies.
type Client interface {
	Nickname() string
	NicknameLower() string
	NicknameAsTarget() string
	Prefix() string
	UserState() UserState
	SetUserState(state UserState)
	IsNetworkClient() bool
	JoinedChannels() map[*Channel]struct{}
	AddJoinedChannel(channel *Channel)
	RemoveJoinedChannel(channel *Channel)
	SendIRCMessage(line string)
	SendNotice(sender Client, text string)
	SendPrivateMessage(sender Client, text string)
	SendNumericReply(code int, args ...interface{})
}

// clientCore carries the state shared by network and virtual clients.
type clientCore struct {
	server *Server

	nickname      string
	nicknameLower string
	prefix        string

	userState UserState

	joinedChannels map[*Channel]struct{}
}

func newClientCore(server *Server) clientCore {
	return clientCore{
		server:         server,
		joinedChannels: make(map[*Channel]struct{}),
	}
}

func (c *clientCore) Nickname() string {
	return c.nickname
}

func (c *clientCore) NicknameLower() string {
	return c.nicknameLower
}

// NicknameAsTarget returns the nickname for use as a reply target. Servers
// use an asterisk when no nickname has been set yet.
func (c *clientCore) NicknameAsTarget() string {
	if c.nickname == "" {
		return "*"
	}
	return c.nickname
}

func (c *clientCore) Prefix() string {
	return c.prefix
}

func (c *clientCore) UserState() UserState {
	return c.userState
}

func (c *clientCore) SetUserState(state UserState) {
	c.userState = state
}

func (c *clientCore) JoinedChannels() map[*Channel]struct{} {
	return c.joinedChannels
}

func (c *clientCore) AddJoinedChannel(channel *Channel) {
	c.joinedChannels[channel] = struct{}{}
}

func (c *clientCore) RemoveJoinedChannel(channel *Channel) {
	delete(c.joinedChannels, channel)
}

// setNickname updates the nickname and the derived prefix. host is "network"
// for network clients and "virtual" for virtual ones.
func (c *clientCore) setNickname(nickname, nicknameLower, host string) {
	c.nickname = nickname
	c.nicknameLower = nicknameLower
	c.prefix = fmt.Sprintf("%s!%s@%s", nickname, nicknameLower, host)
}

// formatNumericReply renders one of the RFC 2812 section 5 replies. Every
// numeric reply consists of the sender prefix, the three-digit numeric, and
// the target of the reply, followed by the code specific message.
func formatNumericReply(serverName, target string, code int, args ...interface{}) string {
	format, ok := numericReplyFormats[code]
	if !ok {
		panic(fmt.Sprintf("no format for numeric reply %03d", code))
	}

	return fmt.Sprintf(":%s %03d %s %s", serverName, code, target,
		fmt.Sprintf(format, args...))
}

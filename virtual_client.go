package main

import (
	"strings"

	"github.com/horgh/irc"
)

// VirtualClient is the base for in-process service clients. A virtual client
// sits in the nickname registry like a network client does, but has no
// connection. It counts as fully registered and identified from the start.
//
// The base discards everything sent to it. Services embed it and override the
// delivery methods they care about.
type VirtualClient struct {
	clientCore
}

func NewVirtualClient(server *Server, nickname string) VirtualClient {
	c := VirtualClient{
		clientCore: newClientCore(server),
	}
	c.setNickname(nickname, canonicalizeNick(nickname), "virtual")
	c.userState = UserState{
		NickSent:   true,
		UserSent:   true,
		Identified: true,
	}
	return c
}

func (c *VirtualClient) IsNetworkClient() bool {
	return false
}

func (c *VirtualClient) SendIRCMessage(line string) {}

func (c *VirtualClient) SendNotice(sender Client, text string) {}

func (c *VirtualClient) SendPrivateMessage(sender Client, text string) {}

func (c *VirtualClient) SendNumericReply(code int, args ...interface{}) {}

func (c *VirtualClient) Shutdown() {}

// Service is a virtual client the server hosts. Init loads its configuration
// and reports whether the service is enabled. PostInit runs once the service
// holds its nickname, after all channels exist. Shutdown releases any
// resources the service holds when the server goes down.
type Service interface {
	Client
	Init() (bool, error)
	PostInit()
	Shutdown()
}

// parseDelivery picks a delivered channel fan-out line apart for a service
// that wants to react to it. The reported sender is resolved through the
// nickname registry, relying on the user part of a prefix always being the
// lowercased nickname. Lines without a user part (server originated ones like
// MODE) resolve to no sender.
func (s *Server) parseDelivery(line string) (Client, irc.Message, bool) {
	message, err := irc.ParseMessage(line + "\r\n")
	if err != nil {
		return nil, irc.Message{}, false
	}

	bang := strings.IndexByte(message.Prefix, '!')
	if bang == -1 {
		return nil, irc.Message{}, false
	}

	at := strings.IndexByte(message.Prefix, '@')
	if at == -1 || at < bang {
		return nil, irc.Message{}, false
	}

	sender, ok := s.Nicknames[message.Prefix[bang+1:at]]
	if !ok {
		return nil, irc.Message{}, false
	}

	return sender, message, true
}

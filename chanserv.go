package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ChanServ is a dummy service existing for compatibility with IRC clients.
// When a member internally has voice status, ChanServ publicly hands out the
// +v mode so that clients display the member accordingly.
type ChanServ struct {
	VirtualClient
}

func NewChanServ(server *Server) *ChanServ {
	return &ChanServ{
		VirtualClient: NewVirtualClient(server, "ChanServ"),
	}
}

func (c *ChanServ) Init() (bool, error) {
	log.Info("Dummy ChanServ is enabled.")
	return true, nil
}

// PostInit joins all preset channels.
func (c *ChanServ) PostInit() {
	for name := range c.server.Channels {
		c.server.handleJOIN(c, []string{name})
	}
}

// setClientModeInChannel publicly gives a freshly joined member its status.
// ChanServ is the only service called directly from the join path: the mode
// line has to go out after every member saw the JOIN, so reacting to the
// delivered JOIN line would be too early.
func (c *ChanServ) setClientModeInChannel(client Client, channel *Channel) {
	if channel.Members[client] != VoiceStatus {
		return
	}

	channel.broadcast(fmt.Sprintf(":%s MODE #%s +v %s", c.Prefix(),
		channel.Name, client.Nickname()))
}

package main

import (
	"fmt"
	"strings"

	"github.com/horgh/irc"
)

// Only the following IRC commands are supported. MODE isn't supported for
// real, though we send dummy supported modes and a first MODE response for
// compatibility. NOTICE was deliberately left out, we don't want to receive
// notices from network clients. Unknown commands are silently ignored.
var commandHandlers = map[string]func(*Server, Client, []string){
	"INFO":    (*Server).handleINFO,
	"JOIN":    (*Server).handleJOIN,
	"MOTD":    (*Server).handleMOTD,
	"NAMES":   (*Server).handleNAMES,
	"NICK":    (*Server).handleNICK,
	"NS":      (*Server).handleNS,
	"PART":    (*Server).handlePART,
	"PING":    (*Server).handlePING,
	"PONG":    (*Server).handlePONG,
	"PRIVMSG": (*Server).handlePRIVMSG,
	"QUIT":    (*Server).handleQUIT,
	"TOPIC":   (*Server).handleTOPIC,
	"USER":    (*Server).handleUSER,
	"VERSION": (*Server).handleVERSION,
}

func (s *Server) handleMessage(c *NetworkClient, m irc.Message) {
	// RFC 2812, 2.3: the only valid prefix from a client is its own
	// registered nickname, which we already track, so the parsed prefix is
	// simply dropped.
	handler, ok := commandHandlers[m.Command]
	if !ok {
		return
	}

	handler(s, c, m.Params)
}

// RFC 2812, 3.4.10 - Info command
//
// Probably not really required, but we want our credits!
func (s *Server) handleINFO(sender Client, params []string) {
	sender.SendNumericReply(rplInfo, productName)
	sender.SendNumericReply(rplInfo, versionCopyright)
	sender.SendNumericReply(rplInfo, "")
	sender.SendNumericReply(rplInfo, versionID+" ("+environmentName()+")")
	sender.SendNumericReply(rplInfo, "")
	sender.SendNumericReply(rplInfo, "Birth Date: "+versionDate)
	sender.SendNumericReply(rplInfo, "On-line since "+s.onlineDate)
}

// RFC 2812, 3.2.1 - Join message
func (s *Server) handleJOIN(sender Client, params []string) {
	if !isUserRegistered(sender.UserState()) {
		return
	}

	if len(params) == 0 {
		sender.SendNumericReply(errNeedMoreParams, "JOIN")
		return
	}

	if params[0] == "0" {
		// Leave all joined channels. RFC 2812, 3.2.1: "The server will
		// process this message as if the user had sent a PART command for
		// each channel he is a member of."
		for _, channel := range joinedChannelNames(sender) {
			s.handlePART(sender, []string{channel})
		}
		return
	}

	// Don't allow joining if the user still has to identify.
	if s.Config.Credentials.isReserved(sender.NicknameLower()) &&
		!sender.UserState().Identified {
		sender.SendNotice(nil, "Please identify first!")
		return
	}

	for _, name := range commaChannels(params[0]) {
		channel, ok := s.Channels[name]
		if !ok {
			// Only preset channels can be joined.
			sender.SendNumericReply(errNoSuchChannel, name)
			continue
		}

		// Virtual clients always get in with voice. Network clients go
		// through the channel's access rules.
		status, allowed := VoiceStatus, true
		if sender.IsNetworkClient() {
			status, allowed = channel.statusFor(sender)
		}
		if !allowed {
			sender.SendNotice(nil, "You are not allowed to join this channel!")
			continue
		}

		if _, ok := channel.Members[sender]; ok {
			continue
		}

		channel.Members[sender] = status
		sender.AddJoinedChannel(channel)

		// Send a JOIN response to all channel members, including the new one.
		channel.broadcast(fmt.Sprintf(":%s JOIN #%s", sender.Prefix(),
			channel.Name))

		// ChanServ publishes the voice status once everybody has seen the
		// JOIN. It cannot just react to the delivered JOIN line, because the
		// mode must come after all members received the JOIN.
		if chanServ, ok := s.Nicknames["chanserv"].(*ChanServ); ok {
			chanServ.setClientModeInChannel(sender, channel)
		}

		s.handleTOPIC(sender, []string{channel.Name})
		s.handleNAMES(sender, []string{channel.Name})
	}
}

// joinedChannelNames snapshots the names of a client's channels, so that we
// can part them while iterating.
func joinedChannelNames(sender Client) []string {
	var names []string
	for channel := range sender.JoinedChannels() {
		names = append(names, channel.Name)
	}
	return names
}

// RFC 2812, 3.4.1 - Motd message
func (s *Server) handleMOTD(sender Client, params []string) {
	if !isUserRegistered(sender.UserState()) {
		return
	}

	sender.SendNumericReply(rplMotdStart, s.Config.ServerName)

	for _, line := range s.Config.Motd {
		sender.SendNumericReply(rplMotd, line)
	}

	sender.SendNumericReply(rplEndOfMotd)
}

// RFC 2812, 3.2.5 - Names message
func (s *Server) handleNAMES(sender Client, params []string) {
	if !isUserRegistered(sender.UserState()) {
		return
	}

	// We don't return anything if no parameters were given. RFC 2812 asks
	// for a list of all channels with all nicknames here, but popular IRC
	// servers (like ircd-seven) don't do that either.
	if len(params) == 0 {
		return
	}

	for _, name := range commaChannels(params[0]) {
		if channel, ok := s.Channels[name]; ok {
			// We support voiced members but no operators.
			sender.SendNumericReply(rplNamReply, name, channel.namesList())
		}

		// RFC 2812, 3.2.5: "There is no error reply for bad channel names."
		// ircd-seven still returns RPL_ENDOFNAMES in this case, so we do as
		// well.
		sender.SendNumericReply(rplEndOfNames, name)
	}
}

// RFC 2812, 3.1.2 - Nick message
//
// Only network clients send this. Virtual clients hold their nickname from
// the start.
func (s *Server) handleNICK(sender Client, params []string) {
	netSender, ok := sender.(*NetworkClient)
	if !ok {
		return
	}

	if len(params) == 0 {
		netSender.SendNumericReply(errNoNicknameGiven)
		return
	}

	currentNickname := netSender.Nickname()
	newNickname := params[0]

	// Silently ignore this message if the client already has this exact
	// nickname.
	if newNickname == currentNickname {
		return
	}

	if !isValidNick(newNickname) {
		netSender.SendNumericReply(errErroneusNickname, newNickname)
		return
	}

	// Is the nickname taken by somebody else? The owner check matters when
	// the new nickname just differs in capitalization from the current one.
	newNicknameLower := canonicalizeNick(newNickname)
	if owner, ok := s.Nicknames[newNicknameLower]; ok && owner != sender {
		netSender.SendNumericReply(errNicknameInUse, newNickname)
		return
	}

	if currentNickname != "" {
		// Nickname changes end here for identified users and channel
		// members.
		if netSender.UserState().Identified {
			netSender.SendNotice(nil,
				"You cannot change your nickname after having identified!")
			return
		}

		if len(netSender.JoinedChannels()) > 0 {
			netSender.SendNotice(nil,
				"You cannot change your nickname after having joined a channel!")
			return
		}

		delete(s.Nicknames, netSender.NicknameLower())
		netSender.SendIRCMessage(fmt.Sprintf(":%s NICK %s",
			netSender.Prefix(), newNickname))
	}

	// Register the nickname, lowercased for comparison purposes.
	s.Nicknames[newNicknameLower] = netSender
	netSender.setNickname(newNickname, newNicknameLower, "network")

	state := netSender.UserState()
	if isUserRegistered(state) {
		// The nickname has just been changed, so recheck whether it's a
		// preset one.
		s.checkForPresetNickname(netSender)
	} else {
		state.NickSent = true
		netSender.SetUserState(state)

		if state.UserSent {
			s.welcomeClient(netSender)
		}
	}
}

// Commonly known server-specific message. Just an abbreviation for
// PRIVMSG NickServ <...>.
func (s *Server) handleNS(sender Client, params []string) {
	if !isUserRegistered(sender.UserState()) {
		return
	}

	s.handlePRIVMSG(sender, []string{"nickserv", strings.Join(params, " ")})
}

// RFC 2812, 3.2.2 - Part message
func (s *Server) handlePART(sender Client, params []string) {
	if !isUserRegistered(sender.UserState()) {
		return
	}

	if len(params) == 0 {
		sender.SendNumericReply(errNeedMoreParams, "PART")
		return
	}

	for _, name := range commaChannels(params[0]) {
		channel, ok := s.Channels[name]
		if !ok {
			sender.SendNumericReply(errNoSuchChannel, name)
			continue
		}

		if _, ok := channel.Members[sender]; !ok {
			sender.SendNumericReply(errNotOnChannel, name)
			return
		}

		// Send a PART response to all channel members, including this one.
		// Messages supplied to the PART command are ignored.
		channel.broadcast(fmt.Sprintf(":%s PART #%s", sender.Prefix(),
			channel.Name))

		delete(channel.Members, sender)
		sender.RemoveJoinedChannel(channel)
	}
}

// RFC 2812, 3.7.2 - Ping message
//
// The PING command is documented in RFC 2812, but you only get it right from
// capturing IRC traffic. It is just necessary to reply with a PONG using the
// first parameter, at least for a single-server architecture.
func (s *Server) handlePING(sender Client, params []string) {
	netSender, ok := sender.(*NetworkClient)
	if !ok {
		return
	}

	if !isUserRegistered(netSender.UserState()) {
		return
	}

	if len(params) == 0 {
		// This error cannot be found for this message in RFC 2812 either,
		// but ircd-seven does it this way.
		netSender.SendNumericReply(errNeedMoreParams, "PING")
		return
	}

	netSender.SendIRCMessage(fmt.Sprintf(":%[1]s PONG %[1]s :%s",
		s.Config.ServerName, params[0]))
}

// RFC 2812, 3.7.3 - Pong message
//
// The client's reply to a PING message sent by us. A very simple
// implementation, just used to detect whether a client is still alive.
// ircd-seven doesn't check the parameters for restarting the ping timer
// either.
func (s *Server) handlePONG(sender Client, params []string) {
	netSender, ok := sender.(*NetworkClient)
	if !ok {
		return
	}

	if !isUserRegistered(netSender.UserState()) {
		return
	}

	netSender.restartPingTimer()
}

// RFC 2812, 3.3.1 - Private messages
//
// PRIVMSG is used both for private messages between users and for messages
// to a channel.
func (s *Server) handlePRIVMSG(sender Client, params []string) {
	if !isUserRegistered(sender.UserState()) {
		return
	}

	if len(params) == 0 {
		sender.SendNumericReply(errNoRecipient, "PRIVMSG")
		return
	}

	if len(params) == 1 {
		sender.SendNumericReply(errNoTextToSend)
		return
	}

	if strings.HasPrefix(params[0], "#") {
		name := canonicalizeChannel(params[0][1:])

		channel, ok := s.Channels[name]
		if !ok {
			sender.SendNumericReply(errNoSuchChannel, name)
			return
		}

		// Only joined clients with voice status may send anything.
		if !channel.mayWrite(sender) {
			sender.SendNumericReply(errCannotSendToChan, name)
			return
		}

		// Send the message to all channel members but not back to the
		// sender.
		channel.privateMessage(sender, params[1])
		return
	}

	nickname := canonicalizeNick(params[0])

	recipient, ok := s.Nicknames[nickname]
	if !ok {
		sender.SendNumericReply(errNoSuchNick, nickname)
		return
	}

	recipient.SendPrivateMessage(sender, params[1])
}

// RFC 2812, 3.1.7 - Quit
func (s *Server) handleQUIT(sender Client, params []string) {
	netSender, ok := sender.(*NetworkClient)
	if !ok {
		return
	}

	if !isUserRegistered(netSender.UserState()) {
		return
	}

	// Messages supplied to the QUIT command are ignored.
	s.disconnectNetworkClient(netSender, "Quit")
}

// RFC 2812, 3.2.4 - Topic message
func (s *Server) handleTOPIC(sender Client, params []string) {
	if !isUserRegistered(sender.UserState()) {
		return
	}

	if len(params) == 0 {
		sender.SendNumericReply(errNeedMoreParams, "TOPIC")
		return
	}

	// Topics are preset, changing them is not supported.
	if len(params) >= 2 {
		return
	}

	name := canonicalizeChannel(strings.TrimPrefix(params[0], "#"))

	channel, ok := s.Channels[name]
	if !ok {
		sender.SendNumericReply(errNoSuchChannel, name)
		return
	}

	if channel.Topic == "" {
		sender.SendNumericReply(rplNoTopic, name)
	} else {
		sender.SendNumericReply(rplTopic, name, channel.Topic)
	}
}

// RFC 2812, 3.1.3 - User message
//
// We have preset user and host names, so all parameters are ignored here.
func (s *Server) handleUSER(sender Client, params []string) {
	netSender, ok := sender.(*NetworkClient)
	if !ok {
		return
	}

	state := netSender.UserState()
	if isUserRegistered(state) {
		return
	}

	state.UserSent = true
	netSender.SetUserState(state)

	if state.NickSent {
		s.welcomeClient(netSender)
	}
}

// RFC 2812, 3.4.3 - Version message
func (s *Server) handleVERSION(sender Client, params []string) {
	sender.SendNumericReply(rplVersion, s.Config.ServerName)
}

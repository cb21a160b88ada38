package main

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// NickServ lets users prove ownership of reserved nicknames. It is driven
// entirely through private messages (usually via the NS alias).
type NickServ struct {
	VirtualClient

	handlers map[string]func(*NickServ, *NetworkClient, []string)
}

func NewNickServ(server *Server) *NickServ {
	return &NickServ{
		VirtualClient: NewVirtualClient(server, "NickServ"),

		handlers: map[string]func(*NickServ, *NetworkClient, []string){
			"GHOST":    (*NickServ).receiveGhost,
			"HELP":     (*NickServ).receiveHelp,
			"IDENTIFY": (*NickServ).receiveIdentify,
		},
	}
}

func (ns *NickServ) Init() (bool, error) {
	// The credential table was already loaded with the configuration.
	log.Info("NickServ is enabled.")
	return true, nil
}

func (ns *NickServ) PostInit() {}

// SendPrivateMessage parses one service command from the message body.
// NickServ is only ever talked to by network clients.
func (ns *NickServ) SendPrivateMessage(sender Client, text string) {
	netSender, ok := sender.(*NetworkClient)
	if !ok {
		return
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		netSender.SendNotice(ns, "Invalid command. Use /NS HELP for a command listing.")
		return
	}

	handler, ok := ns.handlers[strings.ToUpper(fields[0])]
	if !ok {
		netSender.SendNotice(ns, "Invalid command. Use /NS HELP for a command listing.")
		return
	}

	handler(ns, netSender, fields[1:])
}

func (ns *NickServ) receiveHelp(sender *NetworkClient, params []string) {
	if len(params) == 0 {
		sender.SendNotice(ns, "***** NickServ Help *****")
		sender.SendNotice(ns, "General Help:")
		sender.SendNotice(ns, "")
		sender.SendNotice(ns, "NickServ allows you to identify with your nickname using the given password.")
		sender.SendNotice(ns, "You cannot join a channel before having identified!")
		sender.SendNotice(ns, "")
		sender.SendNotice(ns, "For more information about a command, type:")
		sender.SendNotice(ns, "/NS HELP <command>")
		sender.SendNotice(ns, "")
		sender.SendNotice(ns, "This NickServ supports the following commands:")
		sender.SendNotice(ns, "GHOST       Disconnects the session holding your nickname.")
		sender.SendNotice(ns, "IDENTIFY    Identifies using a password.")
		sender.SendNotice(ns, "***** End of Help *****")
		return
	}

	switch strings.ToUpper(params[0]) {
	case "IDENTIFY":
		sender.SendNotice(ns, "***** NickServ Help *****")
		sender.SendNotice(ns, "Help for IDENTIFY:")
		sender.SendNotice(ns, "")
		sender.SendNotice(ns, "IDENTIFY identifies you with the IRC Server, so that you can join channels.")
		sender.SendNotice(ns, fmt.Sprintf("If you don't identify, you will be disconnected after %d seconds.", ns.server.Config.IdentifyTimeout/time.Second))
		sender.SendNotice(ns, "")
		sender.SendNotice(ns, "Syntax: IDENTIFY <password>")
		sender.SendNotice(ns, "")
		sender.SendNotice(ns, "Example:")
		sender.SendNotice(ns, "   /NS IDENTIFY ThisIsMyRandomPassword")
		sender.SendNotice(ns, "***** End of Help *****")

	case "GHOST":
		sender.SendNotice(ns, "***** NickServ Help *****")
		sender.SendNotice(ns, "Help for GHOST:")
		sender.SendNotice(ns, "")
		sender.SendNotice(ns, "GHOST disconnects the session currently using a nickname you own.")
		sender.SendNotice(ns, "Use it to reclaim your nickname after losing the connection.")
		sender.SendNotice(ns, "")
		sender.SendNotice(ns, "Syntax: GHOST <nickname> <password>")
		sender.SendNotice(ns, "")
		sender.SendNotice(ns, "Example:")
		sender.SendNotice(ns, "   /NS GHOST MyNickname ThisIsMyRandomPassword")
		sender.SendNotice(ns, "***** End of Help *****")
	}
}

func (ns *NickServ) receiveIdentify(sender *NetworkClient, params []string) {
	if sender.UserState().Identified {
		sender.SendNotice(ns, "You are already identified!")
		return
	}

	if len(params) == 0 {
		sender.SendNotice(ns, "You need to specify your password as the first parameter!")
		return
	}

	credentials := ns.server.Config.Credentials
	if !credentials.isReserved(sender.NicknameLower()) {
		sender.SendNotice(ns, "No password is known for this nickname!")
		sender.SendNotice(ns, "Ensure that your nickname is spelled correctly.")
		return
	}

	if !credentials.verify(sender.NicknameLower(), params[0]) {
		sender.SendNotice(ns, "Invalid password!")
		sender.SendNotice(ns, "Ensure that your password is spelled correctly (it is case-sensitive).")
		return
	}

	// The password is correct, so this user has successfully identified.
	// Storing the state also replaces the identify deadline with the
	// regular ping schedule.
	state := sender.UserState()
	state.Identified = true
	sender.SetUserState(state)

	sender.SendNotice(ns, "You have successfully identified!")
}

// receiveGhost disconnects the session bound to a reserved nickname, given
// its password. This reclaims a nickname after a connection loss, as the dead
// session may stay around until the next ping deadline.
func (ns *NickServ) receiveGhost(sender *NetworkClient, params []string) {
	if len(params) < 2 {
		sender.SendNotice(ns, "Syntax: GHOST <nickname> <password>")
		return
	}

	nicknameLower := canonicalizeNick(params[0])

	credentials := ns.server.Config.Credentials
	if !credentials.isReserved(nicknameLower) {
		sender.SendNotice(ns, "No password is known for this nickname!")
		sender.SendNotice(ns, "Ensure that the nickname is spelled correctly.")
		return
	}

	if !credentials.verify(nicknameLower, params[1]) {
		sender.SendNotice(ns, "Invalid password!")
		sender.SendNotice(ns, "Ensure that your password is spelled correctly (it is case-sensitive).")
		return
	}

	target, ok := ns.server.Nicknames[nicknameLower]
	if !ok {
		sender.SendNotice(ns, "This nickname is not in use.")
		return
	}

	netTarget, ok := target.(*NetworkClient)
	if !ok {
		sender.SendNotice(ns, "You cannot ghost a service.")
		return
	}

	// Tell the requester first. If they ghost their own session, the
	// disconnect takes them down as well.
	sender.SendNotice(ns, fmt.Sprintf("%s has been ghosted.", params[0]))

	ns.server.disconnectNetworkClient(netTarget,
		"Ghosted by "+sender.NicknameAsTarget())
}

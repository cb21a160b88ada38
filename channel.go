package main

import (
	"fmt"
	"sort"
	"strings"
)

// ChannelStatus is the status of a member inside a channel.
type ChannelStatus int

const (
	// NoStatus means the member may read but not write.
	NoStatus ChannelStatus = iota

	// VoiceStatus (mode +v) lets the member write to the channel.
	VoiceStatus
)

// Channel is a configured channel. Channels come from configuration only and
// live for the whole server lifetime. Name keeps the configured capitalization
// while lookups always go through the canonical lowercased name.
type Channel struct {
	Name  string
	Topic string

	// AllowedUsers holds the canonical nicknames admitted to the channel.
	// Nil means the channel is open to everybody.
	AllowedUsers map[string]struct{}

	// AllowObservers admits users outside AllowedUsers without voice.
	AllowObservers bool

	// Members maps each joined client to its status.
	Members map[Client]ChannelStatus
}

// NewChannel creates a channel with no members.
func NewChannel(name, topic string) *Channel {
	return &Channel{
		Name:    name,
		Topic:   topic,
		Members: make(map[Client]ChannelStatus),
	}
}

// statusFor reports whether the client may join the channel and with which
// status. Restricted channels admit listed users with voice and, when
// observers are allowed, everybody else without any status.
func (ch *Channel) statusFor(c Client) (ChannelStatus, bool) {
	if ch.AllowedUsers == nil {
		return VoiceStatus, true
	}

	if _, ok := ch.AllowedUsers[c.NicknameLower()]; ok {
		return VoiceStatus, true
	}

	if ch.AllowObservers {
		return NoStatus, true
	}

	return NoStatus, false
}

// mayWrite reports whether the client may send messages to the channel. The
// client must be a member and must not be a mere observer.
func (ch *Channel) mayWrite(c Client) bool {
	status, ok := ch.Members[c]
	if !ok {
		return false
	}
	return status == VoiceStatus
}

// namesList builds the space separated member list for RPL_NAMREPLY. Voiced
// members carry a + prefix. The order is deterministic.
func (ch *Channel) namesList() string {
	names := make([]string, 0, len(ch.Members))
	for member, status := range ch.Members {
		if status == VoiceStatus {
			names = append(names, "+"+member.Nickname())
		} else {
			names = append(names, member.Nickname())
		}
	}

	sort.Slice(names, func(i, j int) bool {
		return strings.TrimPrefix(names[i], "+") <
			strings.TrimPrefix(names[j], "+")
	})

	return strings.Join(names, " ")
}

// broadcast sends a raw line to every member of the channel, including the
// originator if it is a member.
func (ch *Channel) broadcast(line string) {
	for member := range ch.Members {
		member.SendIRCMessage(line)
	}
}

// broadcastExcept sends a raw line to every member but the given one.
func (ch *Channel) broadcastExcept(except Client, line string) {
	for member := range ch.Members {
		if member == except {
			continue
		}
		member.SendIRCMessage(line)
	}
}

// privateMessage delivers a PRIVMSG from a member to all other members.
func (ch *Channel) privateMessage(sender Client, text string) {
	ch.broadcastExcept(sender, fmt.Sprintf(":%s PRIVMSG #%s :%s",
		sender.Prefix(), ch.Name, text))
}

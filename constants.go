package main

import "time"

// Product identification, used by INFO/VERSION and the welcome replies.
const (
	productName      = "ROSEV IRC System"
	versionID        = "rosev_ircsystem-2.1.0"
	versionDate      = "2013-09-14"
	versionCopyright = "Copyright 2010-2013 ROSEV"
)

// sendQueueLength is the buffer size of each client's write channel.
const sendQueueLength = 32768

// Default session deadlines, applied by LoadConfig.
const (
	registrationTimeout = 120 * time.Second
	identifyTimeout     = 240 * time.Second
	pingInterval        = 120 * time.Second
	pingTimeout         = 60 * time.Second
)

const (
	maxNickLength = 30
	maxMotdLength = 80
)

// RFC 2812, 5.1 command responses.
const (
	rplWelcome    = 1
	rplYourHost   = 2
	rplCreated    = 3
	rplMyInfo     = 4
	rplNoTopic    = 331
	rplTopic      = 332
	rplVersion    = 351
	rplNamReply   = 353
	rplEndOfNames = 366
	rplInfo       = 371
	rplMotd       = 372
	rplEndOfInfo  = 374
	rplMotdStart  = 375
	rplEndOfMotd  = 376
)

// RFC 2812, 5.2 error replies.
const (
	errNoSuchNick       = 401
	errNoSuchChannel    = 403
	errCannotSendToChan = 404
	errNoRecipient      = 411
	errNoTextToSend     = 412
	errNoNicknameGiven  = 431
	errErroneusNickname = 432
	errNicknameInUse    = 433
	errNotOnChannel     = 442
	errNeedMoreParams   = 461
)

// numericReplyFormats maps a reply code to the message portion following the
// reply target. Leading colons are part of the format where the remainder is a
// single trailing parameter.
var numericReplyFormats = map[int]string{
	rplWelcome:    ":Welcome to the %s Internet Relay Chat Network %s",
	rplYourHost:   ":Your host is %s, running version " + versionID,
	rplCreated:    ":This server was created " + versionDate,
	rplMyInfo:     "%s " + versionID + " iv i",
	rplNoTopic:    "#%s :No topic is set",
	rplTopic:      "#%s :%s",
	rplVersion:    versionID + ". %s :" + productName,
	rplNamReply:   "= #%s :%s",
	rplEndOfNames: "#%s :End of NAMES list",
	rplInfo:       ":%s",
	rplMotd:       ":- %s",
	rplEndOfInfo:  ":End of INFO list",
	rplMotdStart:  ":- %s Message of the day - ",
	rplEndOfMotd:  ":End of MOTD command.",

	errNoSuchNick:       "%s :No such nick/channel",
	errNoSuchChannel:    "#%s :No such channel",
	errCannotSendToChan: "#%s :Cannot send to channel",
	errNoRecipient:      ":No recipient given (%s)",
	errNoTextToSend:     ":No text to send",
	errNoNicknameGiven:  ":No nickname given",
	errErroneusNickname: "%s :Erroneous Nickname",
	errNicknameInUse:    "%s :Nickname is already in use",
	errNotOnChannel:     "#%s :You're not on that channel",
	errNeedMoreParams:   "%s :Not enough parameters",
}

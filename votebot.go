package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// VoteBot runs secret ballots for one channel. Administrators prepare a
// question with options over private messages, then the bot asks every
// channel member for a number and publishes the totals.
type VoteBot struct {
	VirtualClient

	configID string

	abstention string
	admins     map[string]struct{}
	channel    *Channel
	timeLimit  uint

	// State of the running preparation or vote.
	currentAdmin string
	question     string
	options      []string
	votes        map[Client]*ballot
	voteCount    int
	voteStarted  bool

	timer    *time.Timer
	timerGen uint64
}

// ballot is one member's selection. Every eligible member starts out with the
// abstention option preselected.
type ballot struct {
	option   int
	hasVoted bool
}

func NewVoteBot(server *Server, nickname, configID string) *VoteBot {
	return &VoteBot{
		VirtualClient: NewVirtualClient(server, nickname),
		configID:      configID,
		votes:         make(map[Client]*ballot),
	}
}

// loadVoteBots creates a VoteBot for every entry in the VoteBotManager
// configuration, which associates bot nicknames with config file IDs. A
// missing file disables all VoteBots.
func loadVoteBots(server *Server) error {
	configFile := filepath.Join(server.Config.Path, voteBotManagerFile)

	if _, err := os.Stat(configFile); err != nil {
		log.Info("All VoteBots are disabled.")
		return nil
	}

	file, err := ini.Load(configFile)
	if err != nil {
		return errors.Wrap(err, "unable to load the VoteBotManager configuration")
	}

	for _, key := range file.Section("").Keys() {
		bot := NewVoteBot(server, key.Name(), key.String())
		if err := server.AddService(bot); err != nil {
			return err
		}
	}

	return nil
}

// Init loads the configuration of this particular VoteBot instance. A
// missing file means the user has disabled this VoteBot deliberately.
func (vb *VoteBot) Init() (bool, error) {
	configFile := filepath.Join(vb.server.Config.Path,
		fmt.Sprintf(voteBotFilePattern, vb.configID))

	if _, err := os.Stat(configFile); err != nil {
		log.Infof("VoteBot %q is disabled, because the configuration file does not exist.",
			vb.configID)
		return false, nil
	}

	file, err := ini.LoadSources(shadowLoadOptions, configFile)
	if err != nil {
		return false, errors.Wrapf(err,
			"unable to load the configuration of VoteBot %q", vb.configID)
	}

	section := file.Section("")
	vb.abstention = section.Key("abstention_translation").MustString("Abstention")
	admins := section.Key("admins").ValueWithShadows()
	channelName := section.Key("channel").String()
	vb.timeLimit = uint(section.Key("timelimit").MustUint(0))

	if vb.abstention == "" {
		return false, errors.Errorf(
			"the abstention_translation value of VoteBot %q may not be empty",
			vb.configID)
	}
	if len(admins) == 0 || admins[0] == "" {
		return false, errors.Errorf(
			"you have to set at least one administrator for VoteBot %q",
			vb.configID)
	}
	if channelName == "" {
		return false, errors.Errorf(
			"you have to set the channel name for VoteBot %q", vb.configID)
	}
	if vb.timeLimit == 0 {
		return false, errors.Errorf(
			"you have to set a time limit for VoteBot %q", vb.configID)
	}

	channel, ok := vb.server.Channels[canonicalizeChannel(channelName)]
	if !ok {
		return false, errors.Errorf(
			"the configuration of VoteBot %q contains an invalid channel name %q",
			vb.configID, channelName)
	}
	vb.channel = channel

	vb.admins = make(map[string]struct{})
	for _, admin := range admins {
		vb.admins[canonicalizeNick(admin)] = struct{}{}
	}

	log.Infof("VoteBot %q is enabled.", vb.configID)
	return true, nil
}

// PostInit joins the bot's channel.
func (vb *VoteBot) PostInit() {
	vb.server.handleJOIN(vb, []string{vb.channel.Name})
}

// Shutdown stops a pending vote deadline.
func (vb *VoteBot) Shutdown() {
	vb.timerGen++
	if vb.timer != nil {
		vb.timer.Stop()
	}
}

// SendIRCMessage watches the channel traffic for members leaving during a
// running vote. They are excluded from the tally. The bot has only joined
// the vote channel, so it doesn't see PART messages of other channels.
func (vb *VoteBot) SendIRCMessage(line string) {
	if !vb.voteStarted {
		return
	}

	sender, message, ok := vb.server.parseDelivery(line)
	if !ok {
		return
	}

	if message.Command != "PART" && message.Command != "QUIT" {
		return
	}

	vote, ok := vb.votes[sender]
	if !ok {
		return
	}

	if vote.hasVoted {
		vb.voteCount--
	}

	delete(vb.votes, sender)
	vb.checkVotes()
}

// SendPrivateMessage drives the whole vote dialogue.
func (vb *VoteBot) SendPrivateMessage(sender Client, text string) {
	if !sender.UserState().Identified {
		sender.SendPrivateMessage(vb, "Please identify first!")
		return
	}

	if _, isAdmin := vb.admins[sender.NicknameLower()]; isAdmin {
		// VoteBot commands are case-insensitive.
		command := strings.ToUpper(text)

		// These commands can be run by every administrator.
		switch command {
		case "CANCEL":
			vb.receiveCancel(sender)
			return
		case "HELP":
			vb.receiveHelp(sender)
			return
		}

		// Everything else is reserved for a single administrator at a time.
		if vb.currentAdmin != "" && vb.currentAdmin != sender.Nickname() {
			sender.SendPrivateMessage(vb, fmt.Sprintf(
				"This VoteBot is currently being used by %s.", vb.currentAdmin))
			sender.SendPrivateMessage(vb,
				"You have to type \"CANCEL\" if you want to cancel all running actions and use it yourself.")
			return
		}

		switch command {
		case "NEW":
			vb.receiveNew(sender)
			return
		case "START":
			vb.receiveStart(sender)
			return
		}

		// The administrator may have sent values for one of the commands.
		if !vb.voteStarted {
			if vb.question == "" && vb.currentAdmin != "" {
				// The admin has just sent the question for a new vote.
				vb.question = text
				sender.SendPrivateMessage(vb, fmt.Sprintf(
					"Please enter a vote option now. The %q option will automatically be added to the available options.",
					vb.abstention))
			} else if vb.question != "" {
				// The admin has just sent a voting option.
				vb.options = append(vb.options, text)
				sender.SendPrivateMessage(vb,
					"This option has been added. Enter another one or \"START\" to start the vote.")
			} else {
				sender.SendPrivateMessage(vb,
					"Invalid command. Type \"HELP\" for more information.")
			}

			return
		}
	}

	if vb.voteStarted {
		vb.receiveVote(sender, text)
	} else {
		// A non-administrator tried to contact this bot.
		sender.SendPrivateMessage(vb, fmt.Sprintf(
			"I'm VoteBot for #%s, and you're not my administrator :-P",
			vb.channel.Name))
	}
}

func (vb *VoteBot) receiveCancel(sender Client) {
	if vb.currentAdmin == "" {
		sender.SendPrivateMessage(vb, "There is nothing to cancel.")
		return
	}

	if vb.voteStarted {
		// The channel should know when a running vote is canceled.
		vb.sendToChannel("The running vote has been canceled by " +
			sender.Nickname())
	}

	vb.reset()
	sender.SendPrivateMessage(vb, "Everything has been reset.")
}

func (vb *VoteBot) receiveHelp(sender Client) {
	sender.SendNotice(vb, "***** VoteBot Help *****")
	sender.SendNotice(vb, "VoteBot enables all users on a channel to secretly vote on a question.")
	sender.SendNotice(vb, fmt.Sprintf("This VoteBot is responsible for the channel #%s.", vb.channel.Name))
	sender.SendNotice(vb, "")
	sender.SendNotice(vb, "As an administrator of this VoteBot, you can set up the questions.")
	sender.SendNotice(vb, "Just type \"NEW\" and I will ask you about your question and the possible vote options.")
	sender.SendNotice(vb, fmt.Sprintf("The %q option will automatically be added to the available options.", vb.abstention))
	sender.SendNotice(vb, "")
	sender.SendNotice(vb, "When you're done, type \"START\" and I will put this question to all channel members in private messages.")
	sender.SendNotice(vb, fmt.Sprintf("They have %d minutes to answer, otherwise their vote will be counted as %q.", vb.timeLimit, vb.abstention))
	sender.SendNotice(vb, "")
	sender.SendNotice(vb, "You can always cancel the question setup and even the running vote by typing \"CANCEL\".")
	sender.SendNotice(vb, "***** End of Help *****")
}

func (vb *VoteBot) receiveNew(sender Client) {
	if vb.voteStarted {
		sender.SendPrivateMessage(vb,
			"A vote is already running. You have to cancel it first if you want to prepare a new one.")
		return
	}

	if vb.question != "" {
		sender.SendPrivateMessage(vb,
			"A vote is currently being prepared. You have to cancel it first if you want to prepare a new one.")
		return
	}

	sender.SendPrivateMessage(vb, fmt.Sprintf(
		"Please enter the question you want to vote on in #%s.",
		vb.channel.Name))
	vb.options = append(vb.options, vb.abstention)

	// Lock the administrator access to this administrator. A non-empty
	// admin also indicates that we're waiting for the question.
	vb.currentAdmin = sender.Nickname()
}

func (vb *VoteBot) receiveStart(sender Client) {
	if vb.question == "" {
		sender.SendPrivateMessage(vb,
			"Please enter a question first. Type \"HELP\" for more information.")
		return
	}

	// Two options plus abstention are the minimum.
	if len(vb.options) < 3 {
		sender.SendPrivateMessage(vb,
			"Please enter at least two voting options. Type \"HELP\" for more information.")
		return
	}

	// Freeze the eligible voters to the network clients currently in the
	// channel. Clients leaving during the vote are excluded as well (see
	// SendIRCMessage).
	for member := range vb.channel.Members {
		if !member.IsNetworkClient() {
			continue
		}

		// Preselect the abstention option. Casting a vote simply
		// overwrites it.
		vb.votes[member] = &ballot{}

		// Deliberately use private messages instead of notices, as notices
		// can appear inside channel windows with clients like ChatZilla.
		member.SendPrivateMessage(vb, vb.currentAdmin+
			" has set up a vote and I want your opinion.")
		member.SendPrivateMessage(vb, "Question: "+vb.question)
		member.SendPrivateMessage(vb, "Possible options:")

		for i, option := range vb.options {
			member.SendPrivateMessage(vb, fmt.Sprintf("   %d - %s", i, option))
		}

		member.SendPrivateMessage(vb, "Please send me the number of your option.")
		member.SendPrivateMessage(vb, fmt.Sprintf(
			"If you don't answer within %d minutes, your vote will be counted as %q.",
			vb.timeLimit, vb.abstention))
	}

	if len(vb.votes) == 0 {
		sender.SendPrivateMessage(vb, "The channel has no members.")
		return
	}

	vb.sendToChannel(vb.currentAdmin +
		" has set up a vote and I'm asking all of you in private messages now.")

	// The vote process officially starts... now!
	vb.scheduleDeadline()
	vb.voteStarted = true
}

func (vb *VoteBot) receiveVote(sender Client, text string) {
	vote, ok := vb.votes[sender]
	if !ok {
		sender.SendPrivateMessage(vb, "You're not allowed to participate in this vote.")
		return
	}

	number, ok := parseVoteNumber(text)
	if !ok {
		sender.SendPrivateMessage(vb, "Please enter a number.")
		return
	}

	if number >= len(vb.options) {
		sender.SendPrivateMessage(vb, "This number is out of range.")
		return
	}

	vote.option = number

	if vote.hasVoted {
		sender.SendPrivateMessage(vb,
			"Your vote has been changed. You can still change your decision again as long as the others are not yet done.")
	} else {
		vote.hasVoted = true
		vb.voteCount++
		sender.SendPrivateMessage(vb,
			"Your vote has been cast. You can still change your decision as long as the others are not yet done.")
	}

	vb.checkVotes()
}

// parseVoteNumber accepts plain digit sequences only.
func parseVoteNumber(s string) (int, bool) {
	if s == "" {
		return 0, false
	}

	number := 0
	for _, char := range s {
		if char < '0' || char > '9' {
			return 0, false
		}
		number = number*10 + int(char-'0')
	}

	return number, true
}

// checkVotes publishes the results once every remaining voter has decided.
func (vb *VoteBot) checkVotes() {
	if vb.voteCount != len(vb.votes) {
		return
	}

	results := make([]int, len(vb.options))
	for voter, vote := range vb.votes {
		results[vote.option]++
		voter.SendPrivateMessage(vb, fmt.Sprintf(
			"All votes are in. The results are available in #%s.",
			vb.channel.Name))
	}

	vb.sendToChannel("The vote is over. Here are the results!")
	vb.sendToChannel("Question: " + vb.question)
	vb.sendToChannel("Answers:")

	for i, option := range vb.options {
		vb.sendToChannel(fmt.Sprintf("   %s - %d votes", option, results[i]))
	}

	vb.sendToChannel(fmt.Sprintf("Total number of votes: %d", len(vb.votes)))
	vb.reset()
}

func (vb *VoteBot) sendToChannel(text string) {
	vb.server.handlePRIVMSG(vb, []string{"#" + vb.channel.Name, text})
}

// scheduleDeadline arms the vote deadline. When it fires, the outstanding
// ballots count as abstentions.
func (vb *VoteBot) scheduleDeadline() {
	vb.timerGen++
	gen := vb.timerGen

	if vb.timer != nil {
		vb.timer.Stop()
	}

	server := vb.server
	vb.timer = time.AfterFunc(time.Duration(vb.timeLimit)*time.Minute, func() {
		server.newEvent(Event{
			Type: CallbackEvent,
			Callback: func() {
				if vb.timerGen != gen {
					return
				}

				// The deadline has expired, so our vote ends here.
				vb.voteCount = len(vb.votes)
				vb.checkVotes()
			},
		})
	})
}

func (vb *VoteBot) reset() {
	vb.currentAdmin = ""
	vb.options = nil
	vb.question = ""
	vb.voteCount = 0
	vb.votes = make(map[Client]*ballot)
	vb.voteStarted = false

	vb.timerGen++
	if vb.timer != nil {
		vb.timer.Stop()
	}
}

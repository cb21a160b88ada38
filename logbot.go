package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// LogBot writes a transcript of selected channels to disk. One file per
// channel and server run.
type LogBot struct {
	VirtualClient

	// Canonicalized channel name to transcript file.
	channelStreams map[string]*os.File
}

func NewLogBot(server *Server) *LogBot {
	return &LogBot{
		VirtualClient:  NewVirtualClient(server, "LogBot"),
		channelStreams: make(map[string]*os.File),
	}
}

// Init loads the LogBot configuration and opens a transcript file for every
// logged channel. A missing configuration file means the user has disabled
// LogBot deliberately.
func (lb *LogBot) Init() (bool, error) {
	configFile := filepath.Join(lb.server.Config.Path, logBotFile)

	if _, err := os.Stat(configFile); err != nil {
		log.Info("LogBot is disabled, because the configuration file does not exist.")
		return false, nil
	}

	file, err := ini.LoadSources(shadowLoadOptions, configFile)
	if err != nil {
		return false, errors.Wrap(err, "unable to load the LogBot configuration")
	}

	section := file.Section("")
	channelNames := section.Key("channels").ValueWithShadows()
	logPath := section.Key("logpath").String()

	if len(channelNames) == 0 || channelNames[0] == "" {
		return false, errors.New("you have to set the channel names for LogBot")
	}
	if logPath == "" {
		return false, errors.New("you have to set the log path for LogBot")
	}

	// All transcript names of one run share the startup timestamp.
	prefix := time.Now().Format("2006-01-02_150405")

	for _, name := range channelNames {
		nameLower := canonicalizeChannel(name)

		if _, ok := lb.server.Channels[nameLower]; !ok {
			return false, errors.Errorf(
				"LogBot configuration contains an invalid channel name %q", name)
		}

		fileName := filepath.Join(logPath,
			fmt.Sprintf("%s - %s.log", prefix, name))

		stream, err := os.Create(fileName)
		if err != nil {
			return false, errors.Wrap(err,
				"could not open the log file for writing")
		}

		lb.channelStreams[nameLower] = stream
	}

	log.Info("LogBot is enabled.")
	return true, nil
}

// PostInit joins all logged channels.
func (lb *LogBot) PostInit() {
	for name := range lb.channelStreams {
		lb.server.handleJOIN(lb, []string{name})
	}
}

// Shutdown closes the transcript files.
func (lb *LogBot) Shutdown() {
	for _, stream := range lb.channelStreams {
		if err := stream.Close(); err != nil {
			log.Errorf("Unable to close a LogBot transcript: %s", err)
		}
	}
}

// SendIRCMessage reacts to the channel traffic delivered to LogBot as a
// member and appends it to the matching transcripts.
func (lb *LogBot) SendIRCMessage(line string) {
	sender, message, ok := lb.server.parseDelivery(line)
	if !ok {
		return
	}

	switch message.Command {
	case "JOIN":
		lb.logJoin(sender, message.Params)
	case "PART":
		lb.logPart(sender, message.Params)
	case "PRIVMSG":
		lb.logPrivmsg(sender, message.Params)
	case "QUIT":
		lb.logQuit(sender, message.Params)
	}
}

func logTimestamp() string {
	now := time.Now()
	return fmt.Sprintf("[%02d:%02d]", now.Hour(), now.Minute())
}

func (lb *LogBot) logJoin(sender Client, params []string) {
	if len(params) != 1 || params[0] == "" || params[0][0] != '#' {
		return
	}

	nameLower := canonicalizeChannel(params[0][1:])

	stream, ok := lb.channelStreams[nameLower]
	if !ok {
		return
	}

	// Note the status the new member came in with.
	voiceNote := ""
	if channel, ok := lb.server.Channels[nameLower]; ok {
		if channel.Members[sender] == VoiceStatus {
			voiceNote = " with voice status"
		}
	}

	fmt.Fprintf(stream, "%s %s has joined %s%s\n", logTimestamp(),
		sender.Nickname(), params[0], voiceNote)
}

func (lb *LogBot) logPart(sender Client, params []string) {
	if len(params) != 1 || params[0] == "" || params[0][0] != '#' {
		return
	}

	stream, ok := lb.channelStreams[canonicalizeChannel(params[0][1:])]
	if !ok {
		return
	}

	fmt.Fprintf(stream, "%s %s has left %s\n", logTimestamp(),
		sender.Nickname(), params[0])
}

func (lb *LogBot) logPrivmsg(sender Client, params []string) {
	// Real private messages to LogBot never end up here, they would go
	// through SendPrivateMessage instead.
	if len(params) != 2 || params[0] == "" || params[0][0] != '#' {
		return
	}

	stream, ok := lb.channelStreams[canonicalizeChannel(params[0][1:])]
	if !ok {
		return
	}

	fmt.Fprintf(stream, "%s <%s> %s\n", logTimestamp(), sender.Nickname(),
		params[1])
}

func (lb *LogBot) logQuit(sender Client, params []string) {
	if len(params) != 1 {
		return
	}

	// Report the QUIT in every logged channel the user is a member of. The
	// memberships are still intact while the QUIT is delivered.
	line := fmt.Sprintf("%s %s has quit the server (%s)\n", logTimestamp(),
		sender.Nickname(), params[0])

	for nameLower, stream := range lb.channelStreams {
		channel, ok := lb.server.Channels[nameLower]
		if !ok {
			continue
		}

		if _, ok := channel.Members[sender]; ok {
			fmt.Fprint(stream, line)
		}
	}
}

package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Configuration file names inside the configuration directory.
const (
	channelsFile         = "Channels.ini"
	channelUsersFile     = "Channel_Users.ini"
	channelObserversFile = "Channel_Observers.ini"
	logBotFile           = "LogBot.ini"
	mainConfigFile       = "MainConfig.ini"
	motdFile             = "Motd.txt"
	nickServUsersFile    = "NickServ_Users.ini"
	voteBotManagerFile   = "VoteBotManager.ini"
	voteBotFilePattern   = "VoteBot_%s.ini"
)

// shadowLoadOptions lets a key appear multiple times in a file, as the
// channel membership and bot files rely on.
var shadowLoadOptions = ini.LoadOptions{AllowShadows: true}

// Config holds everything read from the configuration directory apart from
// the bot specific files, which the bots load themselves.
type Config struct {
	Path string

	ServerName string
	Port       uint16
	PidFile    string
	UseIPv4    bool
	UseIPv6    bool

	UseTLS         bool
	TLSCertificate string
	TLSPrivateKey  string

	Motd []string

	Channels []*Channel

	Credentials credentialTable

	// IOWait is how long a connection read or write may sit idle before we
	// consider the connection dead.
	IOWait time.Duration

	// Session deadlines. Not read from the configuration files, but carried
	// here so tests can shorten them.
	RegistrationTimeout time.Duration
	IdentifyTimeout     time.Duration
	PingInterval        time.Duration
	PingTimeout         time.Duration
}

// LoadConfig reads and validates the configuration directory. Every file it
// touches is required; the per-bot files are read later by the bots.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Path:        path,
		Credentials: make(credentialTable),
		IOWait:      10 * time.Minute,

		RegistrationTimeout: registrationTimeout,
		IdentifyTimeout:     identifyTimeout,
		PingInterval:        pingInterval,
		PingTimeout:         pingTimeout,
	}

	if err := cfg.readMainConfig(); err != nil {
		return nil, err
	}
	if err := cfg.readMotd(); err != nil {
		return nil, err
	}
	if err := cfg.readCredentials(); err != nil {
		return nil, err
	}
	if err := cfg.readChannels(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) readMainConfig() error {
	file, err := ini.Load(filepath.Join(cfg.Path, mainConfigFile))
	if err != nil {
		return errors.Wrap(err, "unable to load the main configuration file")
	}

	general := file.Section("general")
	cfg.ServerName = general.Key("name").String()
	cfg.PidFile = general.Key("pidfile").String()
	cfg.UseIPv4 = general.Key("use_ipv4").MustBool(false)
	cfg.UseIPv6 = general.Key("use_ipv6").MustBool(false)

	port, err := general.Key("port").Uint()
	if err != nil || port > 65535 {
		return errors.New("you need to specify a port to listen on")
	}
	cfg.Port = uint16(port)

	ssl := file.Section("ssl")
	cfg.UseTLS = ssl.Key("use").MustBool(false)
	cfg.TLSCertificate = ssl.Key("certificate").String()
	cfg.TLSPrivateKey = ssl.Key("privatekey").String()

	if cfg.ServerName == "" {
		return errors.New("you need to specify a server name")
	}
	if cfg.Port == 0 {
		return errors.New("you need to specify a port to listen on")
	}
	if !cfg.UseIPv4 && !cfg.UseIPv6 {
		return errors.New("you need to enable either IPv4 or IPv6 (or both)")
	}
	if cfg.PidFile == "" {
		return errors.New("you need to specify a pidfile")
	}
	if cfg.UseTLS && (cfg.TLSCertificate == "" || cfg.TLSPrivateKey == "") {
		return errors.New(
			"you need to specify a certificate and private key to use SSL")
	}

	return nil
}

func (cfg *Config) readMotd() error {
	buf, err := os.ReadFile(filepath.Join(cfg.Path, motdFile))
	if err != nil {
		return errors.Wrap(err, "could not open the Motd file")
	}

	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if len(line) > maxMotdLength {
			return errors.Errorf("Motd file exceeds line length of %d characters",
				maxMotdLength)
		}
		cfg.Motd = append(cfg.Motd, line)
	}

	return nil
}

func (cfg *Config) readCredentials() error {
	file, err := ini.Load(filepath.Join(cfg.Path, nickServUsersFile))
	if err != nil {
		return errors.Wrap(err, "unable to load the NickServ users file")
	}

	for _, key := range file.Section("").Keys() {
		hash, err := parsePasswordHash(key.String())
		if err != nil {
			return errors.Wrapf(err, "invalid passhash for nickname %q",
				key.Name())
		}

		cfg.Credentials[canonicalizeNick(key.Name())] = hash
	}

	return nil
}

func (cfg *Config) readChannels() error {
	// Channel -> allowed users mappings. A channel may appear many times.
	usersFile, err := ini.LoadSources(shadowLoadOptions,
		filepath.Join(cfg.Path, channelUsersFile))
	if err != nil {
		return errors.Wrap(err, "unable to load the channel users file")
	}

	channelUsers := make(map[string]map[string]struct{})
	for _, key := range usersFile.Section("").Keys() {
		name := canonicalizeChannel(key.Name())
		if channelUsers[name] == nil {
			channelUsers[name] = make(map[string]struct{})
		}
		for _, nick := range key.ValueWithShadows() {
			channelUsers[name][canonicalizeNick(nick)] = struct{}{}
		}
	}

	// Channels admitting observers.
	observersFile, err := ini.Load(filepath.Join(cfg.Path, channelObserversFile))
	if err != nil {
		return errors.Wrap(err, "unable to load the channel observers file")
	}

	channelObservers := make(map[string]struct{})
	for _, key := range observersFile.Section("").Keys() {
		if key.MustBool(false) {
			channelObservers[canonicalizeChannel(key.Name())] = struct{}{}
		}
	}

	// The preset channels themselves.
	presetsFile, err := ini.Load(filepath.Join(cfg.Path, channelsFile))
	if err != nil {
		return errors.Wrap(err, "unable to load the channels file")
	}

	keys := presetsFile.Section("").Keys()
	if len(keys) == 0 {
		return errors.New("you need to specify at least one channel")
	}

	for _, key := range keys {
		if !isValidChannelName(key.Name()) {
			return errors.Errorf("illegal channel name %q", key.Name())
		}

		name := canonicalizeChannel(key.Name())

		allowedUsers, ok := channelUsers[name]
		if !ok {
			return errors.Errorf("no allowed users were set for channel %q",
				key.Name())
		}

		channel := NewChannel(key.Name(), key.String())
		channel.AllowedUsers = allowedUsers
		_, channel.AllowObservers = channelObservers[name]

		cfg.Channels = append(cfg.Channels, channel)
	}

	return nil
}

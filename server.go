package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/horgh/irc"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Server holds the state for a server. Everything global to a server lives in
// an instance of this struct rather than in global variables.
//
// All registries are owned by the single server goroutine running eventLoop.
// Connection goroutines talk to it through ToServerChan only.
type Server struct {
	Config *Config

	// Canonicalized nickname to client. Holds network and virtual clients.
	Nicknames map[string]Client

	// Canonicalized channel name to channel.
	Channels map[string]*Channel

	networkClients map[*NetworkClient]struct{}

	services []Service

	// When we close this channel, this indicates that we're shutting down.
	// Other goroutines can check if this channel is closed.
	ShutdownChan chan struct{}

	// Tell the server something on this channel.
	ToServerChan chan Event

	// One TCP listener per enabled address family.
	Listeners []net.Listener

	tlsConfig *tls.Config

	// WaitGroup to ensure all goroutines clean up before we end.
	WG sync.WaitGroup

	nextClientID uint64

	// Clients whose send queue filled up. Swept after every event.
	overflowedClients []*NetworkClient

	// Set when we go on-line, reported by INFO.
	onlineDate string

	shutdownOnce sync.Once
}

// Event holds a message telling the server something.
type Event struct {
	Type EventType

	Client *NetworkClient

	Message irc.Message

	// Reason accompanies DeadClientEvent.
	Reason string

	// Callback accompanies CallbackEvent and runs in the server goroutine.
	Callback func()
}

// EventType is a type of event we can tell the server about.
type EventType int

const (
	// NullEvent is a default event. This means the event was not populated.
	NullEvent EventType = iota

	// NewClientEvent means a new client connected.
	NewClientEvent

	// DeadClientEvent means the client died for some reason. Clean it up.
	DeadClientEvent

	// MessageFromClientEvent means a client sent a message.
	MessageFromClientEvent

	// CallbackEvent carries a closure into the server goroutine. Deadline
	// timers use it so that all state stays confined to one goroutine.
	CallbackEvent
)

// NewServer initializes a Server from a loaded configuration.
func NewServer(cfg *Config) *Server {
	s := &Server{
		Config: cfg,

		Nicknames:      make(map[string]Client),
		Channels:       make(map[string]*Channel),
		networkClients: make(map[*NetworkClient]struct{}),

		// shutdown() closes this channel.
		ShutdownChan: make(chan struct{}),

		// We never manually close this channel.
		ToServerChan: make(chan Event),
	}

	for _, channel := range cfg.Channels {
		s.Channels[canonicalizeChannel(channel.Name)] = channel
	}

	return s
}

// Listen opens the TCP listeners, one per enabled address family. The IPv6
// listener is single-stack, IPv4 connections belong to the IPv4 one.
func (s *Server) Listen() error {
	if s.Config.UseTLS {
		cert, err := tls.LoadX509KeyPair(s.Config.TLSCertificate,
			s.Config.TLSPrivateKey)
		if err != nil {
			return errors.Wrap(err, "unable to load the SSL certificate")
		}

		s.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
		log.Info("SSL is enabled.")
	} else {
		log.Info("SSL is disabled.")
	}

	addr := fmt.Sprintf(":%d", s.Config.Port)

	if s.Config.UseIPv4 {
		ln, err := net.Listen("tcp4", addr)
		if err != nil {
			return errors.Wrap(err, "unable to listen for IPv4 connections")
		}
		s.Listeners = append(s.Listeners, ln)
		log.Infof("Listening on %s for IPv4 connections.", ln.Addr())
	}

	if s.Config.UseIPv6 {
		ln, err := net.Listen("tcp6", addr)
		if err != nil {
			return errors.Wrap(err, "unable to listen for IPv6 connections")
		}
		s.Listeners = append(s.Listeners, ln)
		log.Infof("Listening on %s for IPv6 connections.", ln.Addr())
	}

	return nil
}

// AddService registers a virtual client. An error aborts startup, a disabled
// service is skipped. Enabled services hold their nickname without going
// through the NICK checks. We trust them.
func (s *Server) AddService(service Service) error {
	enabled, err := service.Init()
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}

	s.Nicknames[service.NicknameLower()] = service
	s.services = append(s.services, service)
	service.PostInit()

	return nil
}

// Run accepts connections and processes events until Shutdown is called.
func (s *Server) Run() {
	s.onlineDate = time.Now().Format(time.ANSIC)

	for _, ln := range s.Listeners {
		s.WG.Add(1)
		go s.acceptConnections(ln)
	}

	s.eventLoop()

	// Release the remaining clients. Their writer goroutines close the
	// sockets, which in turn ends the readers.
	for client := range s.networkClients {
		client.shutdown()
	}

	s.WG.Wait()

	for _, service := range s.services {
		service.Shutdown()
	}
}

// Shutdown stops the server. It is safe to call from any goroutine, and more
// than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		log.Info("Shutting down...")
		close(s.ShutdownChan)

		for _, ln := range s.Listeners {
			_ = ln.Close()
		}
	})
}

func (s *Server) isShuttingDown() bool {
	select {
	case <-s.ShutdownChan:
		return true
	default:
		return false
	}
}

// newEvent tells the server about an event. It gives up when the server is
// shutting down, as nothing may be consuming the event channel anymore.
func (s *Server) newEvent(evt Event) {
	select {
	case s.ToServerChan <- evt:
	case <-s.ShutdownChan:
	}
}

// acceptConnections accepts connections on one listener and starts the
// goroutine pair for each.
func (s *Server) acceptConnections(ln net.Listener) {
	defer s.WG.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.isShuttingDown() {
				log.Errorf("Unable to accept connection: %s", err)
			}
			break
		}

		if s.tlsConfig != nil {
			conn = tls.Server(conn, s.tlsConfig)
		}

		id := atomic.AddUint64(&s.nextClientID, 1)
		client := NewNetworkClient(s, id, conn)

		// Register the client before its goroutines can produce events
		// about it.
		s.newEvent(Event{Type: NewClientEvent, Client: client})

		s.WG.Add(2)
		go client.readLoop()
		go client.writeLoop()
	}

	log.Debug("Listener shutting down.")
}

// eventLoop processes events on the server's channel. It continues until the
// shutdown channel closes.
func (s *Server) eventLoop() {
	for {
		select {
		case evt := <-s.ToServerChan:
			s.handleEvent(evt)
			s.sweepOverflowedClients()
		case <-s.ShutdownChan:
			return
		}
	}
}

func (s *Server) handleEvent(evt Event) {
	switch evt.Type {
	case NewClientEvent:
		log.Debugf("New client connection: %s", evt.Client)
		s.networkClients[evt.Client] = struct{}{}

		// The client has to register within the registration timeout.
		evt.Client.restartRegistrationTimer()

	case DeadClientEvent:
		if !evt.Client.shutdownDone {
			log.Debugf("Client %s died: %s", evt.Client, evt.Reason)
			s.disconnectNetworkClient(evt.Client, evt.Reason)
		}

	case MessageFromClientEvent:
		if !evt.Client.shutdownDone {
			log.Debugf("Client %s: Message: %s", evt.Client, evt.Message)
			s.handleMessage(evt.Client, evt.Message)
		}

	case CallbackEvent:
		evt.Callback()

	default:
		log.Fatalf("Unexpected event: %d", evt.Type)
	}
}

// noteSendQueueExceeded records a client for disconnection. Sends all happen
// in the server goroutine, so the sweep after the current event picks the
// client up.
func (s *Server) noteSendQueueExceeded(c *NetworkClient) {
	s.overflowedClients = append(s.overflowedClients, c)
}

func (s *Server) sweepOverflowedClients() {
	for len(s.overflowedClients) > 0 {
		clients := s.overflowedClients
		s.overflowedClients = nil

		for _, client := range clients {
			if !client.shutdownDone {
				log.Debugf("Client %s: Send queue exceeded.", client)
				s.disconnectNetworkClient(client, "SendQ exceeded")
			}
		}
	}
}

// disconnectNetworkClient removes a client from all server state and releases
// its connection.
//
// Any failing operation on a client may end up here, so this must be safe to
// call repeatedly.
func (s *Server) disconnectNetworkClient(c *NetworkClient, reason string) {
	if c.shutdownDone {
		return
	}

	c.cancelTimer()

	if c.Nickname() != "" {
		if len(c.JoinedChannels()) > 0 {
			// Send a QUIT to all members of all channels this client is in,
			// but only once for each member. The departing client is a
			// member itself and gets one too.
			//
			// Deliver before touching the memberships. Services sharing a
			// channel inspect them while handling the QUIT.
			handled := make(map[Client]struct{})
			response := fmt.Sprintf(":%s QUIT :%s", c.Prefix(), reason)

			for channel := range c.JoinedChannels() {
				for member := range channel.Members {
					if _, ok := handled[member]; ok {
						continue
					}
					member.SendIRCMessage(response)
					handled[member] = struct{}{}
				}
			}

			for channel := range c.JoinedChannels() {
				delete(channel.Members, c)
			}
			c.joinedChannels = make(map[*Channel]struct{})
		}

		delete(s.Nicknames, c.NicknameLower())
	}

	// Send the ERROR if the client has a chance to receive it. The string
	// before the brackets differs between server implementations, but
	// leaving it out entirely confuses clients like ChatZilla.
	if c.initialized.Load() {
		c.SendIRCMessage(fmt.Sprintf("ERROR :Closing Link: %s (%s)",
			c.NicknameAsTarget(), reason))
	}

	c.shutdown()
	delete(s.networkClients, c)
}

// checkForPresetNickname arms the deadline matching the client's nickname:
// reserved nicknames get the identify deadline with a warning, everyone else
// answers regular pings.
func (s *Server) checkForPresetNickname(c *NetworkClient) {
	if s.Config.Credentials.isReserved(c.NicknameLower()) {
		c.SendNotice(nil, "This nickname is protected.")
		c.SendNotice(nil, fmt.Sprintf("Please identify with your password "+
			"in the next %d seconds or you will be disconnected.",
			s.Config.IdentifyTimeout/time.Second))
		c.SendNotice(nil, "Use the command /NS IDENTIFY <password> to do so.")
		c.restartIdentifyTimer()
	} else {
		c.restartPingTimer()
	}
}

// welcomeClient runs once a client has sent both NICK and USER.
func (s *Server) welcomeClient(c *NetworkClient) {
	// COMPATIBILITY: Send the common welcome replies. For example, ChatZilla
	// won't show you connected until it has received RPL_WELCOME.
	c.SendNumericReply(rplWelcome, s.Config.ServerName, c.Nickname())
	c.SendNumericReply(rplYourHost, s.Config.ServerName)
	c.SendNumericReply(rplCreated)
	c.SendNumericReply(rplMyInfo, s.Config.ServerName)

	s.handleMOTD(c, nil)

	// COMPATIBILITY: Send a dummy +i mode so that clients expecting a MODE
	// response here don't get confused. Like ircd-seven and others, use the
	// bare nickname instead of a full prefix.
	c.SendIRCMessage(fmt.Sprintf(":%[1]s MODE %[1]s :+i", c.Nickname()))

	// At the end of the initial login, the user should know whether
	// identification is needed or not.
	s.checkForPresetNickname(c)
}

func environmentName() string {
	return runtime.GOOS
}

package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/horgh/irc"
	log "github.com/sirupsen/logrus"
)

// NetworkClient holds the state of one TCP connection.
type NetworkClient struct {
	clientCore

	// Conn is the connection to the client.
	Conn Conn

	// Locally unique identifier.
	ID uint64

	// WriteChan is the channel to send to to write to the client.
	WriteChan chan string

	// Track if we overflow our send queue. If we do, we'll kill the client.
	SendQueueExceeded bool

	// initialized is set once the transport is ready for writes, meaning
	// after the TLS handshake on TLS connections. Until then the client
	// gets no ERROR farewell on teardown. The read goroutine stores it,
	// the server goroutine reads it.
	initialized atomic.Bool

	// The deadline timer. A generation counter invalidates callbacks from
	// timers that were restarted or stopped after firing.
	timer    *time.Timer
	timerGen uint64

	shutdownDone bool
}

// NewNetworkClient creates a NetworkClient.
func NewNetworkClient(server *Server, id uint64, conn net.Conn) *NetworkClient {
	return &NetworkClient{
		clientCore: newClientCore(server),
		Conn:       NewConn(conn, server.Config.IOWait),
		ID:         id,

		// Buffered channel. We don't want to block sending to the client
		// from the server. The client may be stuck. Make the buffer large
		// enough that it should only max out in case of connection issues.
		WriteChan: make(chan string, sendQueueLength),
	}
}

func (c *NetworkClient) String() string {
	return fmt.Sprintf("%d %s", c.ID, c.Conn.RemoteAddr())
}

func (c *NetworkClient) IsNetworkClient() bool {
	return true
}

// SendIRCMessage queues a raw protocol line for delivery, terminating it.
//
// This function won't block. If the client's queue is full, we flag it as
// having a full send queue and the server disconnects it. Not blocking is
// important because the server delivers messages this way, and if we blocked
// on a problem client, everything would grind to a halt.
func (c *NetworkClient) SendIRCMessage(line string) {
	if c.SendQueueExceeded || c.shutdownDone {
		return
	}

	select {
	case c.WriteChan <- line + "\r\n":
	default:
		c.SendQueueExceeded = true
		c.server.noteSendQueueExceeded(c)
	}
}

// SendNotice sends a NOTICE from the given client to this client. A nil
// sender means the server itself is the sender.
func (c *NetworkClient) SendNotice(sender Client, text string) {
	senderPrefix := c.server.Config.ServerName
	if sender != nil {
		senderPrefix = sender.Prefix()
	}

	c.SendIRCMessage(fmt.Sprintf(":%s NOTICE %s :%s", senderPrefix,
		c.NicknameAsTarget(), text))
}

// SendPrivateMessage sends a PRIVMSG from the given client to this client.
func (c *NetworkClient) SendPrivateMessage(sender Client, text string) {
	c.SendIRCMessage(fmt.Sprintf(":%s PRIVMSG %s :%s", sender.Prefix(),
		c.NicknameAsTarget(), text))
}

func (c *NetworkClient) SendNumericReply(code int, args ...interface{}) {
	c.SendIRCMessage(formatNumericReply(c.server.Config.ServerName,
		c.NicknameAsTarget(), code, args...))
}

// SetUserState stores the new state. The last state change of a session is
// the one marking it identified, so it is safe to replace the identify
// deadline with the regular ping schedule here.
func (c *NetworkClient) SetUserState(state UserState) {
	c.userState = state

	if state.Identified {
		c.restartPingTimer()
	}
}

// scheduleDeadline replaces the client's single deadline timer. fire runs in
// the server goroutine. Stale timers that already fired are neutralized by
// the generation check.
func (c *NetworkClient) scheduleDeadline(d time.Duration, fire func()) {
	c.timerGen++
	gen := c.timerGen

	if c.timer != nil {
		c.timer.Stop()
	}

	server := c.server
	c.timer = time.AfterFunc(d, func() {
		server.newEvent(Event{
			Type: CallbackEvent,
			Callback: func() {
				if c.shutdownDone || c.timerGen != gen {
					return
				}
				fire()
			},
		})
	})
}

func (c *NetworkClient) cancelTimer() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
	}
}

// restartRegistrationTimer gives the client the registration timeout to send
// its NICK command.
func (c *NetworkClient) restartRegistrationTimer() {
	timeout := c.server.Config.RegistrationTimeout
	c.scheduleDeadline(timeout, func() {
		c.server.disconnectNetworkClient(c, fmt.Sprintf(
			"Nick timeout: %d seconds", timeout/time.Second))
	})
}

// restartIdentifyTimer gives the client the identify timeout to prove the
// password of its reserved nickname.
func (c *NetworkClient) restartIdentifyTimer() {
	timeout := c.server.Config.IdentifyTimeout
	c.scheduleDeadline(timeout, func() {
		c.server.disconnectNetworkClient(c, fmt.Sprintf(
			"Identify timeout: %d seconds", timeout/time.Second))
	})
}

// restartPingTimer schedules the next PING for this client. Once it goes out,
// the client has the ping timeout to answer with a PONG.
func (c *NetworkClient) restartPingTimer() {
	timeout := c.server.Config.PingTimeout
	c.scheduleDeadline(c.server.Config.PingInterval, func() {
		c.SendIRCMessage("PING " + c.server.Config.ServerName)
		c.scheduleDeadline(timeout, func() {
			c.server.disconnectNetworkClient(c, fmt.Sprintf(
				"Ping timeout: %d seconds", timeout/time.Second))
		})
	})
}

// readLoop endlessly reads from the client's TCP connection. It parses each
// protocol message and passes it to the server through the server's channel.
//
// On TLS connections it first drives the handshake, so that a connection
// stuck in the handshake never reaches the message path.
func (c *NetworkClient) readLoop() {
	defer c.server.WG.Done()

	if tlsConn, ok := c.Conn.conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			log.Debugf("Client %s: TLS handshake failed: %s", c, err)
			c.server.newEvent(Event{
				Type:   DeadClientEvent,
				Client: c,
				Reason: "TLS handshake failed",
			})
			return
		}
	}

	c.initialized.Store(true)

	for {
		if c.server.isShuttingDown() {
			break
		}

		buf, err := c.Conn.Read()
		if err != nil {
			log.Debugf("Client %s: %s", c, err)
			c.server.newEvent(Event{
				Type:   DeadClientEvent,
				Client: c,
				Reason: "I/O error",
			})
			break
		}

		message, err := irc.ParseMessage(buf)
		if err == irc.ErrTruncated {
			// RFC 2812, 2.3: messages must not exceed 512 characters.
			c.server.newEvent(Event{
				Type:   DeadClientEvent,
				Client: c,
				Reason: "Message too long",
			})
			break
		}
		if err != nil {
			log.Debugf("Client %s: Invalid message: %q: %s", c, buf, err)
			continue
		}

		c.server.newEvent(Event{
			Type:    MessageFromClientEvent,
			Client:  c,
			Message: message,
		})
	}

	log.Debugf("Client %s: Reader shutting down.", c)
}

// writeLoop endlessly reads from the client's channel and writes each line to
// the client's TCP connection.
//
// When the channel is closed, or if we have a write error, close the TCP
// connection. This way we try to deliver pending messages, the ERROR farewell
// among them, before giving up on the client.
//
// We also stop when the server shuts down, since the server may never see
// the event telling it to close our write channel.
func (c *NetworkClient) writeLoop() {
	defer c.server.WG.Done()

Loop:
	for {
		select {
		case line, ok := <-c.WriteChan:
			if !ok {
				break Loop
			}

			if err := c.Conn.Write(line); err != nil {
				log.Debugf("Client %s: %s", c, err)
				c.server.newEvent(Event{
					Type:   DeadClientEvent,
					Client: c,
					Reason: "I/O error",
				})
				break Loop
			}
		case <-c.server.ShutdownChan:
			break Loop
		}
	}

	if err := c.Conn.Close(); err != nil {
		log.Debugf("Client %s: Error closing connection: %s", c, err)
	}

	log.Debugf("Client %s: Writer shutting down.", c)
}

// shutdown releases the connection. The write goroutine closes the socket
// once it has drained the queued lines, which in turn stops the reader.
func (c *NetworkClient) shutdown() {
	c.cancelTimer()
	close(c.WriteChan)
	c.shutdownDone = true
}

package tunnel

import (
	"io"
	"net"
	"regexp"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lhbill/assppweb/internal/logging"
)

var apexBuyHostPattern = regexp.MustCompile(`^p\d+-buy\.itunes\.apple\.com$`)

var allowedExactHosts = map[string]bool{
	"auth.itunes.apple.com": true,
	"buy.itunes.apple.com":  true,
	"init.itunes.apple.com": true,
}

// hostnameAllowed reports whether hostname may be dialed on a CONNECT
// frame, per spec.md §4.C's admission policy. Literal IPs are rejected
// even when they would otherwise match the regex.
func hostnameAllowed(hostname string) bool {
	if net.ParseIP(trimBrackets(hostname)) != nil {
		return false
	}
	if allowedExactHosts[hostname] {
		return true
	}
	return apexBuyHostPattern.MatchString(hostname)
}

func trimBrackets(h string) string {
	if len(h) >= 2 && h[0] == '[' && h[len(h)-1] == ']' {
		return h[1 : len(h)-1]
	}
	return h
}

// Session is one tunnel instance bound to an accepted WebSocket. It
// multiplexes any number of TCP streams over that single connection.
type Session struct {
	conn *websocket.Conn

	mu      sync.Mutex // serializes writes to conn
	streams map[uint32]*stream

	log *logging.FieldLogger
}

type stream struct {
	tcp net.Conn
}

// NewSession wraps an accepted WebSocket connection.
func NewSession(conn *websocket.Conn) *Session {
	return &Session{
		conn:    conn,
		streams: make(map[uint32]*stream),
		log:     logging.Global().WithField("component", "tunnel.session"),
	}
}

// writeFrame sends f over the WebSocket, serialized against concurrent
// writers (the CONNECT handler and every stream's TCP→WS pump).
func (s *Session) writeFrame(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, f.Encode())
}

// Dialer opens a plain TCP connection to addr. Overridable in tests.
type Dialer func(network, addr string) (net.Conn, error)

// Run drives the session until the WebSocket closes or errors. dial
// defaults to net.Dial when nil.
func (s *Session) Run(dial Dialer) {
	if dial == nil {
		dial = net.Dial
	}
	defer s.teardown()

	// A fixed flow-control credit is announced at session open; the
	// present core does not meter inbound data beyond this.
	if err := s.writeFrame(NewContinueFrame(0, FixedFlowCreditBytes)); err != nil {
		return
	}

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := DecodeFrame(msg)
		if err != nil {
			s.log.WithField("err", err.Error()).Warn("dropping malformed frame")
			continue
		}
		s.handleFrame(frame, dial)
	}
}

func (s *Session) handleFrame(f *Frame, dial Dialer) {
	switch f.Type {
	case FrameConnect:
		s.handleConnect(f, dial)
	case FrameData:
		s.handleData(f)
	case FrameClose:
		s.handleClose(f)
	default:
		// CONTINUE and unknown types are not accepted from the client.
	}
}

func (s *Session) handleConnect(f *Frame, dial Dialer) {
	payload, err := DecodeConnectPayload(f.Payload)
	if err != nil {
		s.writeFrame(NewCloseFrame(f.StreamID, ReasonInvalidInfo))
		return
	}

	if payload.StreamType != StreamTypeTCP || payload.Port != 443 || !hostnameAllowed(payload.Hostname) {
		s.writeFrame(NewCloseFrame(f.StreamID, ReasonInvalidInfo))
		return
	}

	addr := net.JoinHostPort(payload.Hostname, "443")
	conn, err := dial("tcp", addr)
	if err != nil {
		s.writeFrame(NewCloseFrame(f.StreamID, ReasonNetworkErr))
		return
	}

	s.mu.Lock()
	s.streams[f.StreamID] = &stream{tcp: conn}
	s.mu.Unlock()

	if err := s.writeFrame(NewContinueFrame(f.StreamID, FixedFlowCreditBytes)); err != nil {
		conn.Close()
		return
	}

	go s.pumpTCPToWS(f.StreamID, conn)
}

func (s *Session) handleData(f *Frame) {
	s.mu.Lock()
	st, ok := s.streams[f.StreamID]
	s.mu.Unlock()
	if !ok {
		return // unknown streamId: dropped silently
	}

	if _, err := st.tcp.Write(f.Payload); err != nil {
		s.closeStream(f.StreamID, ReasonNetworkErr)
	}
}

func (s *Session) handleClose(f *Frame) {
	s.mu.Lock()
	st, ok := s.streams[f.StreamID]
	delete(s.streams, f.StreamID)
	s.mu.Unlock()
	if ok {
		st.tcp.Close()
	}
}

// pumpTCPToWS reads from the TCP connection until EOF or error,
// forwarding each read as a DATA frame, then closes the stream.
func (s *Session) pumpTCPToWS(streamID uint32, conn net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if werr := s.writeFrame(NewDataFrame(streamID, append([]byte(nil), buf[:n]...))); werr != nil {
				s.removeStream(streamID)
				conn.Close()
				return
			}
		}
		if err != nil {
			s.removeStream(streamID)
			conn.Close()
			if err == io.EOF {
				s.writeFrame(NewCloseFrame(streamID, ReasonVoluntary))
			} else {
				s.writeFrame(NewCloseFrame(streamID, ReasonNetworkErr))
			}
			return
		}
	}
}

func (s *Session) closeStream(streamID uint32, reason uint8) {
	s.removeStream(streamID)
	s.writeFrame(NewCloseFrame(streamID, reason))
}

func (s *Session) removeStream(streamID uint32) {
	s.mu.Lock()
	st, ok := s.streams[streamID]
	delete(s.streams, streamID)
	s.mu.Unlock()
	if ok {
		st.tcp.Close()
	}
}

// teardown closes every open TCP writer and clears the stream map; no
// state survives the session.
func (s *Session) teardown() {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[uint32]*stream)
	s.mu.Unlock()

	for _, st := range streams {
		st.tcp.Close()
	}
}

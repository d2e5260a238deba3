package orchestrator

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vrsandeep/fastchecker/internal/models"
)

const (
	writeWait = 10 * time.Second
	// The relay pings every 54s; a socket silent for longer is dead.
	pongWait = 60 * time.Second
)

// State is the relay connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

var ErrConnClosed = errors.New("relay connection closed")

// FrameHandler receives every well-formed frame read from the relay.
type FrameHandler func(models.RelayMessage)

type commandKind int

const (
	cmdEnsure commandKind = iota
	cmdSend
)

type command struct {
	kind  commandKind
	frame []byte
}

type dialResult struct {
	ws  *websocket.Conn
	err error
}

// Conn keeps a single socket to the relay alive. All state lives in the
// goroutine started by Run, which is also the only writer to the socket;
// callers talk to it through commands.
type Conn struct {
	url     string
	dialer  *websocket.Dialer
	handler FrameHandler
	log     *zap.SugaredLogger

	readWait       time.Duration
	reconnectDelay atomic.Int64
	state          atomic.Int32

	cmds    chan command
	dialed  chan dialResult
	dropped chan *websocket.Conn
	done    chan struct{}
}

// NewConn creates a connection to the relay at url. Nothing is dialled until
// Run is started and EnsureConnected or Send is called.
func NewConn(url string, reconnectDelay time.Duration, log *zap.SugaredLogger) *Conn {
	c := &Conn{
		url:      url,
		dialer:   websocket.DefaultDialer,
		log:      log,
		readWait: pongWait,
		cmds:     make(chan command, 64),
		dialed:   make(chan dialResult),
		dropped:  make(chan *websocket.Conn),
		done:     make(chan struct{}),
	}
	c.reconnectDelay.Store(int64(reconnectDelay))
	return c
}

// OnFrame sets the inbound frame handler. It must be called before Run.
func (c *Conn) OnFrame(fn FrameHandler) { c.handler = fn }

// SetReconnectDelay changes the delay used for the next reconnect.
func (c *Conn) SetReconnectDelay(d time.Duration) { c.reconnectDelay.Store(int64(d)) }

// State returns the current connection state.
func (c *Conn) State() State { return State(c.state.Load()) }

// EnsureConnected starts a connection attempt unless one is live or in flight.
func (c *Conn) EnsureConnected() {
	c.submit(command{kind: cmdEnsure})
}

// Send writes msg to the relay, or queues it until the connection is up.
// Queued frames are flushed in the order they were sent.
func (c *Conn) Send(msg models.RelayMessage) error {
	frame, err := models.EncodeRelayMessage(msg)
	if err != nil {
		return err
	}
	if !c.submit(command{kind: cmdSend, frame: frame}) {
		return ErrConnClosed
	}
	return nil
}

func (c *Conn) submit(cmd command) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.cmds <- cmd:
		return true
	case <-c.done:
		return false
	}
}

// Run owns the socket until ctx is cancelled.
func (c *Conn) Run(ctx context.Context) {
	defer close(c.done)

	var (
		ws    *websocket.Conn
		queue [][]byte
		retry *time.Timer
	)
	retryC := func() <-chan time.Time {
		if retry == nil {
			return nil
		}
		return retry.C
	}
	scheduleRetry := func() {
		if retry != nil {
			return
		}
		d := time.Duration(c.reconnectDelay.Load())
		c.log.Infof("Relay disconnected, reconnecting in %s", d)
		retry = time.NewTimer(d)
	}
	connect := func() {
		if c.State() != Disconnected {
			return
		}
		if retry != nil {
			retry.Stop()
			retry = nil
		}
		c.state.Store(int32(Connecting))
		go c.dial(ctx)
	}
	drop := func() {
		if ws != nil {
			ws.Close()
			ws = nil
		}
		c.state.Store(int32(Disconnected))
		scheduleRetry()
	}
	flush := func() {
		for len(queue) > 0 && ws != nil {
			if err := c.write(ws, queue[0]); err != nil {
				c.log.Warnf("Relay write failed, %d message(s) kept queued: %v", len(queue), err)
				drop()
				return
			}
			queue = queue[1:]
		}
	}

	for {
		select {
		case <-ctx.Done():
			if retry != nil {
				retry.Stop()
			}
			if ws != nil {
				ws.Close()
			}
			c.state.Store(int32(Disconnected))
			return

		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdEnsure:
				connect()
			case cmdSend:
				queue = append(queue, cmd.frame)
				if ws != nil {
					flush()
				} else {
					connect()
				}
			}

		case res := <-c.dialed:
			if res.err != nil {
				c.log.Warnf("Relay dial %s failed: %v", c.url, res.err)
				c.state.Store(int32(Disconnected))
				scheduleRetry()
				continue
			}
			ws = res.ws
			c.state.Store(int32(Connected))
			c.log.Infof("Connected to relay %s", c.url)
			go c.read(ctx, ws)
			flush()

		case closed := <-c.dropped:
			if closed != ws {
				continue
			}
			drop()

		case <-retryC():
			retry = nil
			connect()
		}
	}
}

func (c *Conn) dial(ctx context.Context) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	select {
	case c.dialed <- dialResult{ws: ws, err: err}:
	case <-ctx.Done():
		if ws != nil {
			ws.Close()
		}
	}
}

func (c *Conn) write(ws *websocket.Conn, frame []byte) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, frame)
}

// read delivers inbound frames to the handler until the socket fails or
// stays silent past readWait, then reports the socket back to the owner.
func (c *Conn) read(ctx context.Context, ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(c.readWait))
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(c.readWait))
		// WriteControl may run alongside the owner's writes.
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.readWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.log.Warnf("Relay silent for %s, dropping connection", c.readWait)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warnf("Relay read error: %v", err)
			}
			select {
			case c.dropped <- ws:
			case <-ctx.Done():
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(c.readWait))

		msg, err := models.DecodeRelayMessage(data)
		if err != nil {
			if errors.Is(err, models.ErrUnknownMessageType) {
				c.log.Debugf("Ignoring relay frame: %v", err)
			} else {
				c.log.Warnf("Dropping relay frame: %v", err)
			}
			continue
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}

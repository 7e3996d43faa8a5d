package chaindb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// event types sent by the server
const (
	EventTablePersist = "TablePersist"
	EventTableUpdate  = "TableUpdate"
)

// EventData is one server to client event frame.
type EventData struct {
	EventType string          `json:"event_type"`
	Database  string          `json:"database"`
	Table     string          `json:"table"`
	Data      json.RawMessage `json:"data"`
	// milliseconds
	Timestamp int64 `json:"timestamp"`
}

// the server may send the timestamp in any number form.
// fractional and exponent forms are truncated
func (self *EventData) UnmarshalJSON(src []byte) error {
	type eventData EventData
	var frame struct {
		eventData
		Timestamp json.Number `json:"timestamp"`
	}
	if err := json.Unmarshal(src, &frame); err != nil {
		return err
	}
	timestamp, err := parseTimestamp(frame.Timestamp)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*self = EventData(frame.eventData)
	self.Timestamp = timestamp
	return nil
}

func parseTimestamp(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// decodes the event data as a table record
func DecodeEventDoc[M any](event *EventData) (DocWithId[M], error) {
	var doc DocWithId[M]
	if isNull(event.Data) {
		return doc, nil
	}
	err := json.Unmarshal(event.Data, &doc)
	return doc, err
}

type EventCallback func(event *EventData)

// MalformedMessageError is reported to the error callback when an inbound
// frame cannot be parsed. It is never surfaced to subscribers.
type MalformedMessageError struct {
	Frame []byte
	Err   error
}

func (self *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed event frame (%d bytes): %s", len(self.Frame), self.Err)
}

func (self *MalformedMessageError) Unwrap() error {
	return self.Err
}

type EventsState int

const (
	EventsStateUninitialized EventsState = iota
	EventsStateConnecting
	EventsStateOpen
	EventsStateClosed
)

func (self EventsState) String() string {
	switch self {
	case EventsStateUninitialized:
		return "uninitialized"
	case EventsStateConnecting:
		return "connecting"
	case EventsStateOpen:
		return "open"
	case EventsStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

type EventsSettings struct {
	WsHandshakeTimeout time.Duration
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	// diagnostic sink for transport errors and malformed frames.
	// Called on the read goroutine
	ErrorCallback func(err error)
	// if set, used instead of a dialer built from the timeouts
	Dialer *websocket.Dialer
}

func DefaultEventsSettings() *EventsSettings {
	return &EventsSettings{
		WsHandshakeTimeout: 5 * time.Second,
		PingInterval:       30 * time.Second,
		WriteTimeout:       5 * time.Second,
	}
}

// EventsUrl derives the websocket url from the http server url.
func EventsUrl(serverUrl string) (string, error) {
	u, err := url.Parse(serverUrl)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + ApiBase + "/events"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Subscription is the registration token returned by subscribe.
// Unsubscribe matches on the token, not on the callback.
type Subscription struct {
	Id        ulid.ULID
	EventName string

	callback EventCallback
	events   *Events
}

func (self *Subscription) Unsubscribe() {
	if self.events == nil {
		return
	}
	self.events.Unsubscribe(self.EventName, self)
}

// Events is one websocket connection carrying realtime table events,
// multiplexed to the registered callbacks by event type.
// There is no reconnect. Once closed, an `Events` stays closed.
type Events struct {
	ctx    context.Context
	cancel context.CancelFunc

	url       string
	authToken string
	settings  *EventsSettings

	stateLock sync.Mutex
	state     EventsState
	ws        *websocket.Conn
	// the raw connection while the handshake is in progress
	dialConn net.Conn
	// closed when `Open` returns or the channel is closed
	openDone     chan struct{}
	openDoneOnce sync.Once

	listenersLock sync.Mutex
	listeners     map[string]*callbackList[*Subscription]
}

func NewEvents(ctx context.Context, eventsUrl string, authToken string, settings *EventsSettings) *Events {
	if settings == nil {
		settings = DefaultEventsSettings()
	}
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Events{
		ctx:       cancelCtx,
		cancel:    cancel,
		url:       eventsUrl,
		authToken: authToken,
		settings:  settings,
		state:     EventsStateUninitialized,
		openDone:  make(chan struct{}),
		listeners: map[string]*callbackList[*Subscription]{},
	}
}

// Open dials the server. It can only be called once.
func (self *Events) Open() error {
	self.stateLock.Lock()
	if self.state != EventsStateUninitialized {
		state := self.state
		self.stateLock.Unlock()
		if state == EventsStateClosed {
			return ErrEventsClosed
		}
		return fmt.Errorf("event channel already %s", state)
	}
	self.state = EventsStateConnecting
	self.stateLock.Unlock()
	defer self.markOpenDone()

	header := http.Header{}
	header.Add("Authorization", fmt.Sprintf("Basic %s", self.authToken))

	ws, _, err := self.dialer().DialContext(self.ctx, self.url, header)
	if err != nil {
		if state := self.setClosed(); state == EventsStateClosed {
			// closed while connecting
			return ErrEventsClosed
		}
		glog.Infof("[events]connect error %s = %s\n", self.url, err)
		return err
	}

	self.stateLock.Lock()
	self.dialConn = nil
	if self.state != EventsStateConnecting {
		// closed while connecting
		self.stateLock.Unlock()
		ws.Close()
		return ErrEventsClosed
	}
	self.ws = ws
	self.state = EventsStateOpen
	self.stateLock.Unlock()

	glog.V(1).Infof("[events]open %s\n", self.url)

	go self.run(ws)
	go self.keepAlive(ws)

	return nil
}

// copies the configured dialer so that every raw connection is recorded
// until the handshake completes. `Close` closes it to abort the handshake
func (self *Events) dialer() *websocket.Dialer {
	var dialer websocket.Dialer
	if self.settings.Dialer != nil {
		dialer = *self.settings.Dialer
	} else {
		dialer = websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: self.settings.WsHandshakeTimeout,
		}
	}

	netDial := dialer.NetDialContext
	if netDial == nil {
		if dial := dialer.NetDial; dial != nil {
			netDial = func(ctx context.Context, network string, addr string) (net.Conn, error) {
				return dial(network, addr)
			}
		} else {
			netDial = (&net.Dialer{}).DialContext
		}
	}
	dialer.NetDial = nil
	dialer.NetDialContext = self.trackDial(netDial)
	if dialer.NetDialTLSContext != nil {
		dialer.NetDialTLSContext = self.trackDial(dialer.NetDialTLSContext)
	}
	return &dialer
}

func (self *Events) trackDial(
	dial func(ctx context.Context, network string, addr string) (net.Conn, error),
) func(ctx context.Context, network string, addr string) (net.Conn, error) {
	return func(ctx context.Context, network string, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.state != EventsStateConnecting {
			conn.Close()
			return nil, ErrEventsClosed
		}
		self.dialConn = conn
		return conn, nil
	}
}

func (self *Events) markOpenDone() {
	self.openDoneOnce.Do(func() {
		close(self.openDone)
	})
}

// waits until `Open` returns or the channel is closed
func (self *Events) waitOpen() {
	<-self.openDone
}

func (self *Events) State() EventsState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *Events) IsConnected() bool {
	return self.State() == EventsStateOpen
}

// returns the previous state
func (self *Events) setClosed() EventsState {
	self.stateLock.Lock()
	state := self.state
	self.state = EventsStateClosed
	self.stateLock.Unlock()

	self.cancel()
	return state
}

// read loop. dispatch is synchronous in arrival order
func (self *Events) run(ws *websocket.Conn) {
	defer func() {
		if state := self.setClosed(); state == EventsStateOpen {
			glog.V(1).Infof("[events]closed %s\n", self.url)
		}
		ws.Close()
	}()

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-self.ctx.Done():
				// local close
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					glog.V(1).Infof("[events]closed by server %s = %s\n", self.url, err)
				} else {
					glog.Infof("[events]read error %s = %s\n", self.url, err)
					self.reportError(err)
				}
			}
			return
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			self.receive(message)
		default:
			glog.V(2).Infof("[events]other=%d\n", messageType)
		}
	}
}

func (self *Events) keepAlive(ws *websocket.Conn) {
	defer ws.Close()

	if self.settings.PingInterval <= 0 {
		<-self.ctx.Done()
		return
	}

	ticker := time.NewTicker(self.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(self.settings.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// a websocket write error cannot be recovered
				glog.Infof("[events]ping error %s = %s\n", self.url, err)
				self.reportError(err)
				return
			}
		}
	}
}

func (self *Events) reportError(err error) {
	if self.settings.ErrorCallback != nil {
		HandleError(func() {
			self.settings.ErrorCallback(err)
		})
	}
}

// parses one frame and dispatches it. Malformed frames are dropped
func (self *Events) receive(message []byte) {
	var event EventData
	if err := json.Unmarshal(message, &event); err != nil {
		glog.Infof("[events]drop malformed frame (%d bytes) = %s\n", len(message), err)
		self.reportError(&MalformedMessageError{
			Frame: message,
			Err:   err,
		})
		return
	}
	if event.EventType == "" {
		glog.Infof("[events]drop frame with no event_type (%d bytes)\n", len(message))
		self.reportError(&MalformedMessageError{
			Frame: message,
			Err:   errors.New("missing event_type"),
		})
		return
	}
	self.dispatch(&event)
}

func (self *Events) dispatch(event *EventData) {
	self.listenersLock.Lock()
	callbacks, ok := self.listeners[event.EventType]
	self.listenersLock.Unlock()

	if !ok {
		// no listeners for this type
		return
	}

	for _, sub := range callbacks.get() {
		HandleError(func() {
			sub.callback(event)
		})
	}
}

// Subscribe registers `callback` for `eventName`. Callbacks for the same
// event name run in registration order.
func (self *Events) Subscribe(eventName string, callback EventCallback) (*Subscription, error) {
	if callback == nil {
		return nil, errors.New("nil event callback")
	}
	if self.State() == EventsStateClosed {
		return nil, ErrEventsClosed
	}

	sub := &Subscription{
		Id:        ulid.Make(),
		EventName: eventName,
		callback:  callback,
		events:    self,
	}

	self.listenersLock.Lock()
	defer self.listenersLock.Unlock()

	callbacks, ok := self.listeners[eventName]
	if !ok {
		callbacks = &callbackList[*Subscription]{}
		self.listeners[eventName] = callbacks
	}
	callbacks.add(sub)

	glog.V(2).Infof("[events]subscribe %s %s (%s)\n", eventName, sub.Id, callbackName(callback))
	return sub, nil
}

// Unsubscribe removes the given subscriptions, or all subscriptions for
// `eventName` when none are given. Unknown names and tokens are ignored.
func (self *Events) Unsubscribe(eventName string, subs ...*Subscription) {
	self.listenersLock.Lock()
	defer self.listenersLock.Unlock()

	callbacks, ok := self.listeners[eventName]
	if !ok {
		return
	}

	if len(subs) == 0 {
		delete(self.listeners, eventName)
		return
	}

	for _, sub := range subs {
		if sub != nil {
			callbacks.remove(sub)
		}
	}
	if callbacks.len() == 0 {
		delete(self.listeners, eventName)
	}
}

// event names with at least one subscription, sorted
func (self *Events) EventNames() []string {
	self.listenersLock.Lock()
	defer self.listenersLock.Unlock()

	eventNames := maps.Keys(self.listeners)
	slices.Sort(eventNames)
	return eventNames
}

// Close sends a close frame and closes the connection.
func (self *Events) Close() {
	self.stateLock.Lock()
	ws := self.ws
	dialConn := self.dialConn
	state := self.state
	self.state = EventsStateClosed
	self.dialConn = nil
	self.stateLock.Unlock()

	if dialConn != nil && state == EventsStateConnecting {
		// unblocks a handshake in progress
		dialConn.Close()
	}

	if ws != nil && state == EventsStateOpen {
		deadline := time.Now().Add(self.settings.WriteTimeout)
		ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
	}

	self.cancel()
	self.markOpenDone()

	if ws != nil {
		ws.Close()
	}
}

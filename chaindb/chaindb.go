// Package chaindb is a client for a ChainDB server.
//
// Connect once, then open typed tables and subscribe to realtime table events:
//
//	db, err := chaindb.Connect(chaindb.Connection{
//		Database: "test-db",
//		User:     "root",
//		Password: "1234",
//	})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	greetings, err := chaindb.GetTable[Greeting](db, "greeting")
//	if err != nil {
//		return err
//	}
//	greetings.Set(Greeting{Greeting: "hello world"})
//	err = greetings.Persist()
//
//	sub, err := db.Subscribe(chaindb.EventTablePersist, func(event *chaindb.EventData) {
//		// ...
//	})
//
// Table and doc handles are not safe for concurrent writes. Two concurrent
// refetches on the same handle both run and the last response wins.
package chaindb

import (
	"context"
	"net/http"
	"sync"

	"github.com/golang/glog"
)

type ChainDBSettings struct {
	ApiSettings    *ApiSettings
	EventsSettings *EventsSettings
}

func DefaultChainDBSettings() *ChainDBSettings {
	return &ChainDBSettings{
		ApiSettings:    DefaultApiSettings(),
		EventsSettings: DefaultEventsSettings(),
	}
}

// ChainDB is the connected database. It owns the session and at most one
// open event channel.
type ChainDB struct {
	ctx    context.Context
	cancel context.CancelFunc

	session  *Session
	client   *http.Client
	settings *ChainDBSettings

	eventsLock sync.Mutex
	events     *Events
}

func Connect(connection Connection) (*ChainDB, error) {
	return ConnectWithContext(context.Background(), connection, DefaultChainDBSettings())
}

// fails with `*ConnectionError`. There is no retry
func ConnectWithContext(ctx context.Context, connection Connection, settings *ChainDBSettings) (*ChainDB, error) {
	if settings == nil {
		settings = DefaultChainDBSettings()
	}
	if settings.ApiSettings == nil {
		settings.ApiSettings = DefaultApiSettings()
	}
	if settings.EventsSettings == nil {
		settings.EventsSettings = DefaultEventsSettings()
	}

	client := settings.ApiSettings.client()
	session, err := connectSession(ctx, client, connection)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("[chaindb]connected %s/%s\n", session.serverUrl, session.database)

	cancelCtx, cancel := context.WithCancel(ctx)
	return &ChainDB{
		ctx:      cancelCtx,
		cancel:   cancel,
		session:  session,
		client:   client,
		settings: settings,
	}, nil
}

func (self *ChainDB) Session() *Session {
	return self.session
}

func (self *ChainDB) api() *api {
	return &api{
		ctx:       self.ctx,
		client:    self.client,
		serverUrl: self.session.serverUrl,
		authToken: self.session.authToken,
	}
}

// Subscribe registers `callback` for `eventName`. The event channel is opened
// on first use with the session token. A closed channel is never reopened;
// the next subscribe after a close opens a new channel with no registrations.
func (self *ChainDB) Subscribe(eventName string, callback EventCallback) (*Subscription, error) {
	events, err := self.openEvents()
	if err != nil {
		return nil, err
	}
	return events.Subscribe(eventName, callback)
}

// returns the open channel, dialing a new one if needed.
// The dial runs outside `eventsLock` so that `CloseEvents` can abort it.
// Concurrent callers share one dial
func (self *ChainDB) openEvents() (*Events, error) {
	self.eventsLock.Lock()
	if self.ctx.Err() != nil {
		self.eventsLock.Unlock()
		return nil, ErrNotConnected
	}
	events := self.events
	if events != nil && events.State() != EventsStateClosed {
		self.eventsLock.Unlock()
		events.waitOpen()
		return events, nil
	}

	eventsUrl, err := EventsUrl(self.session.serverUrl)
	if err != nil {
		self.eventsLock.Unlock()
		return nil, err
	}
	events = NewEvents(self.ctx, eventsUrl, self.session.authToken, self.settings.EventsSettings)
	self.events = events
	self.eventsLock.Unlock()

	if err := events.Open(); err != nil {
		self.eventsLock.Lock()
		if self.events == events {
			self.events = nil
		}
		self.eventsLock.Unlock()
		return nil, err
	}
	return events, nil
}

// Unsubscribe removes the given subscriptions from `eventName`, or every
// subscription of `eventName` when none are given.
// It is a no-op when no channel was ever opened.
func (self *ChainDB) Unsubscribe(eventName string, subs ...*Subscription) {
	self.eventsLock.Lock()
	events := self.events
	self.eventsLock.Unlock()

	if events == nil {
		return
	}
	events.Unsubscribe(eventName, subs...)
}

// the current event channel, or nil if none was opened
func (self *ChainDB) Events() *Events {
	self.eventsLock.Lock()
	defer self.eventsLock.Unlock()
	return self.events
}

func (self *ChainDB) CloseEvents() {
	self.eventsLock.Lock()
	events := self.events
	self.eventsLock.Unlock()

	if events != nil {
		events.Close()
	}
}

// Close cancels in flight round trips and closes the event channel.
func (self *ChainDB) Close() {
	self.CloseEvents()
	self.cancel()
}

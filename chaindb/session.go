package chaindb

import (
	"context"
	"net/http"
)

// Connection is the input to connect. It is not retained after connect.
type Connection struct {
	// if empty, `DefaultServer` is used
	Server   string
	Database string
	User     string
	Password string
}

// Session is the authenticated context established by connect.
// It is immutable and shared read-only by tables, docs and events.
type Session struct {
	serverUrl string
	database  string
	authToken string
}

func (self *Session) ServerUrl() string {
	return self.serverUrl
}

func (self *Session) Database() string {
	return self.database
}

// opaque to every component except the auth header
func (self *Session) AuthToken() string {
	return self.authToken
}

// `model.ConnectArgs`
type connectArgs struct {
	Name     string `json:"name"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// a single round trip. no retry
func connectSession(ctx context.Context, client *http.Client, connection Connection) (*Session, error) {
	serverUrl := connection.Server
	if serverUrl == "" {
		serverUrl = DefaultServer
	}

	a := &api{
		ctx:       ctx,
		client:    client,
		serverUrl: serverUrl,
	}

	authToken, err := TraceWithReturnError("[api]connect "+connection.Database, func() (string, error) {
		authToken, _, err := post[string](a, "/database/connect", &connectArgs{
			Name:     connection.Database,
			User:     connection.User,
			Password: connection.Password,
		})
		return authToken, err
	})
	if err != nil {
		if s, ok := err.(*serverError); ok {
			return nil, &ConnectionError{Message: s.message}
		}
		return nil, &ConnectionError{Err: err}
	}
	if authToken == "" {
		return nil, &ConnectionError{Err: ErrEmptyAuthToken}
	}

	return &Session{
		serverUrl: serverUrl,
		database:  connection.Database,
		authToken: authToken,
	}, nil
}

package chaindb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestConnect(t *testing.T) {
	server := newTestServer(t)

	db, err := Connect(testConnection(server))
	assert.Equal(t, err, nil)
	defer db.Close()

	session := db.Session()
	assert.Equal(t, session.ServerUrl(), server.Url)
	assert.Equal(t, session.Database(), testDatabase)
	assert.NotEqual(t, session.AuthToken(), "")

	claims, err := session.TokenClaims()
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.Database, testDatabase)
	assert.Equal(t, claims.User, testUser)
	assert.Equal(t, claims.ExpiresAt.After(time.Now()), true)
}

func TestConnectBadCredentials(t *testing.T) {
	server := newTestServer(t)

	connection := testConnection(server)
	connection.Password = "wrong"
	db, err := Connect(connection)
	assert.Equal(t, db, nil)

	var connectionError *ConnectionError
	assert.Equal(t, errors.As(err, &connectionError), true)
	assert.Equal(t, connectionError.Message, "Invalid credentials")
	assert.Equal(t, connectionError.Err, nil)
}

func TestConnectTransportError(t *testing.T) {
	server := newTestServer(t)
	serverUrl := server.Url
	server.Close()

	db, err := Connect(Connection{
		Server:   serverUrl,
		Database: testDatabase,
		User:     testUser,
		Password: testPassword,
	})
	assert.Equal(t, db, nil)

	var connectionError *ConnectionError
	assert.Equal(t, errors.As(err, &connectionError), true)
	assert.Equal(t, connectionError.Message, "")
	assert.NotEqual(t, connectionError.Err, nil)
}

func TestConnectEmptyToken(t *testing.T) {
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"","data":""}`))
	}))
	defer httpServer.Close()

	db, err := Connect(Connection{
		Server:   httpServer.URL,
		Database: testDatabase,
	})
	assert.Equal(t, db, nil)
	assert.Equal(t, errors.Is(err, ErrEmptyAuthToken), true)
}

func TestConnectNonEnvelopeError(t *testing.T) {
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer httpServer.Close()

	_, err := Connect(Connection{
		Server:   httpServer.URL,
		Database: testDatabase,
	})
	var connectionError *ConnectionError
	assert.Equal(t, errors.As(err, &connectionError), true)
	assert.Equal(t, connectionError.Err.Error(), "bad gateway")
}

func TestConnectRequest(t *testing.T) {
	var path string
	var contentType string
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"success":true,"message":"","data":"opaque-token"}`))
	}))
	defer httpServer.Close()

	db, err := Connect(Connection{
		Server:   httpServer.URL,
		Database: testDatabase,
		User:     testUser,
		Password: testPassword,
	})
	assert.Equal(t, err, nil)
	defer db.Close()

	assert.Equal(t, path, "/api/v1/database/connect")
	assert.Equal(t, contentType, "application/json")
	assert.Equal(t, db.Session().AuthToken(), "opaque-token")

	// an opaque token is not an error until claims are requested
	_, err = db.Session().TokenClaims()
	assert.Equal(t, errors.Is(err, ErrTokenNotJwt), true)
}

func TestClose(t *testing.T) {
	server, db := newTestChainDB(t)

	_, err := db.Subscribe(EventTablePersist, func(event *EventData) {})
	assert.Equal(t, err, nil)
	assert.Equal(t, server.WaitForClients(1, 5*time.Second), true)

	db.Close()

	assert.Equal(t, db.Events().State(), EventsStateClosed)

	assert.Equal(t, db.ctx.Err(), context.Canceled)

	table := NewTable[greeting](db, "greeting")
	err = table.Refetch()
	var operationError *OperationError
	assert.Equal(t, errors.As(err, &operationError), true)
	assert.Equal(t, errors.Is(err, context.Canceled), true)

	_, err = db.Subscribe(EventTablePersist, func(event *EventData) {})
	assert.Equal(t, err, ErrNotConnected)
}

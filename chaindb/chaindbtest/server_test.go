package chaindbtest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newServer(t *testing.T) *Server {
	server := NewServer()
	server.AddUser("test-db", "root", "1234")
	t.Cleanup(server.Close)
	return server
}

func call(t *testing.T, server *Server, method string, path string, authToken string, body any) (int, envelope) {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		bodyBytes, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequest(method, server.Url+apiBase+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Basic "+authToken)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var e envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&e))
	return res.StatusCode, e
}

func login(t *testing.T, server *Server) string {
	status, e := call(t, server, http.MethodPost, "/database/connect", "", map[string]any{
		"name":     "test-db",
		"user":     "root",
		"password": "1234",
	})
	require.Equal(t, http.StatusOK, status)
	require.True(t, e.Success)

	var authToken string
	require.NoError(t, json.Unmarshal(e.Data, &authToken))
	require.NotEmpty(t, authToken)
	return authToken
}

func TestConnect(t *testing.T) {
	server := newServer(t)

	tests := []struct {
		name     string
		user     string
		password string
		success  bool
		message  string
	}{
		{"valid", "root", "1234", true, ""},
		{"wrong password", "root", "4321", false, "Invalid credentials"},
		{"unknown user", "admin", "1234", false, "Invalid credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, e := call(t, server, http.MethodPost, "/database/connect", "", map[string]any{
				"name":     "test-db",
				"user":     tt.user,
				"password": tt.password,
			})
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, tt.success, e.Success)
			assert.Equal(t, tt.message, e.Message)
		})
	}
}

func TestUnauthorized(t *testing.T) {
	server := newServer(t)

	status, e := call(t, server, http.MethodGet, "/table/greeting", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, e.Success)

	status, _ = call(t, server, http.MethodGet, "/table/greeting", "bad.token.value", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestPersistUpdateHistory(t *testing.T) {
	server := newServer(t)
	authToken := login(t, server)

	status, e := call(t, server, http.MethodGet, "/table/greeting", authToken, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, e.Success)
	assert.Equal(t, "null", string(e.Data))

	_, e = call(t, server, http.MethodPost, "/table/greeting/persist", authToken, map[string]any{
		"data": map[string]any{"greeting": "hello"},
	})
	require.True(t, e.Success)
	var persisted map[string]any
	require.NoError(t, json.Unmarshal(e.Data, &persisted))
	docId, _ := persisted["doc_id"].(string)
	assert.NotEmpty(t, docId)
	assert.Equal(t, "hello", persisted["greeting"])

	_, e = call(t, server, http.MethodPost, "/table/greeting/update", authToken, map[string]any{
		"data": map[string]any{"greeting": "updated"},
	})
	require.True(t, e.Success)

	records := server.Records("test-db", "greeting")
	require.Len(t, records, 1)
	assert.Equal(t, docId, records[0]["doc_id"])
	assert.Equal(t, "updated", records[0]["greeting"])

	_, e = call(t, server, http.MethodPost, "/table/greeting/update", authToken, map[string]any{
		"data":   map[string]any{"greeting": "x"},
		"doc_id": "missing",
	})
	assert.False(t, e.Success)
	assert.Equal(t, "Document missing not found", e.Message)

	_, e = call(t, server, http.MethodGet, "/table/greeting/history?limit=1", authToken, nil)
	require.True(t, e.Success)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(e.Data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "updated", history[0]["greeting"])

	status, e = call(t, server, http.MethodGet, "/table/greeting/history?limit=x", authToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, e.Success)

	// tables are scoped per database
	assert.Empty(t, server.Records("other-db", "greeting"))
}

func TestFindAdvancedInvalidOperator(t *testing.T) {
	server := newServer(t)
	authToken := login(t, server)

	_, e := call(t, server, http.MethodPost, "/table/greeting/find-advanced", authToken, map[string]any{
		"criteria": []map[string]any{
			{"field": "age", "operator": "Between", "value": 1},
		},
	})
	assert.False(t, e.Success)
	assert.True(t, strings.Contains(e.Message, "Between"))
}

func TestFailRequests(t *testing.T) {
	server := newServer(t)
	authToken := login(t, server)

	server.FailRequests("Table is locked")
	status, e := call(t, server, http.MethodGet, "/table/greeting", authToken, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, e.Success)
	assert.Equal(t, "Table is locked", e.Message)

	server.FailRequests("")
	_, e = call(t, server, http.MethodGet, "/table/greeting", authToken, nil)
	assert.True(t, e.Success)
}

func TestEventsBroadcast(t *testing.T) {
	server := newServer(t)
	authToken := login(t, server)

	header := http.Header{}
	header.Set("Authorization", "Basic "+authToken)
	wsUrl := "ws" + strings.TrimPrefix(server.Url, "http") + apiBase + "/events"
	ws, _, err := websocket.DefaultDialer.Dial(wsUrl, header)
	require.NoError(t, err)
	defer ws.Close()

	require.True(t, server.WaitForClients(1, 5*time.Second))

	_, e := call(t, server, http.MethodPost, "/table/greeting/persist", authToken, map[string]any{
		"data": map[string]any{"greeting": "hello"},
	})
	require.True(t, e.Success)

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)

	var event struct {
		EventType string         `json:"event_type"`
		Database  string         `json:"database"`
		Table     string         `json:"table"`
		Data      map[string]any `json:"data"`
		Timestamp int64          `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(frame, &event))
	assert.Equal(t, "TablePersist", event.EventType)
	assert.Equal(t, "test-db", event.Database)
	assert.Equal(t, "greeting", event.Table)
	assert.Equal(t, "hello", event.Data["greeting"])
	assert.NotZero(t, event.Timestamp)

	server.CloseClients()
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

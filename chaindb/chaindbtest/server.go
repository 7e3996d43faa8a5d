// Package chaindbtest runs an in-memory ChainDB server for tests and local
// development. It speaks the same http and websocket protocol as a real
// server: envelopes, basic auth tokens, table records, history, criteria
// search and realtime table events.
package chaindbtest

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const apiBase = "/api/v1"

const defaultHistoryLimit = 25
const defaultFindLimit = 1000
const tokenTtl = 24 * time.Hour
const writeTimeout = 5 * time.Second

type userKey struct {
	database string
	user     string
}

type tableKey struct {
	database string
	name     string
}

type record struct {
	docId string
	data  map[string]any
}

// the wire form, model fields plus `doc_id`
func (self *record) json() map[string]any {
	out := make(map[string]any, len(self.data)+1)
	for k, v := range self.data {
		out[k] = v
	}
	out["doc_id"] = self.docId
	return out
}

type table struct {
	// insertion order
	records []*record
	// every written state, oldest first
	history []map[string]any
}

func (self *table) find(docId string) *record {
	for _, r := range self.records {
		if r.docId == docId {
			return r
		}
	}
	return nil
}

type client struct {
	database  string
	ws        *websocket.Conn
	writeLock sync.Mutex
}

func (self *client) write(frame []byte) error {
	self.writeLock.Lock()
	defer self.writeLock.Unlock()
	self.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return self.ws.WriteMessage(websocket.TextMessage, frame)
}

// Server is an in-memory ChainDB server bound to a local port.
type Server struct {
	// base url, e.g. http://127.0.0.1:41234
	Url string

	httpServer *httptest.Server
	signingKey []byte
	upgrader   websocket.Upgrader

	stateLock   sync.Mutex
	users       map[userKey]string
	tables      map[tableKey]*table
	failMessage string

	clientsLock sync.Mutex
	clients     map[*client]bool
}

func NewServer() *Server {
	gin.SetMode(gin.ReleaseMode)

	signingKey := make([]byte, 32)
	if _, err := rand.Read(signingKey); err != nil {
		panic(err)
	}

	server := &Server{
		signingKey: signingKey,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
		},
		users:   map[userKey]string{},
		tables:  map[tableKey]*table{},
		clients: map[*client]bool{},
	}

	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group(apiBase)
	v1.POST("/database/connect", server.connect)

	authorized := v1.Group("", server.authenticate)
	authorized.GET("/events", server.events)

	tables := authorized.Group("/table/:name", server.failing)
	tables.GET("", server.getTable)
	tables.POST("/persist", server.persist)
	tables.POST("/update", server.update)
	tables.GET("/history", server.history)
	tables.POST("/find", server.find)
	tables.POST("/find-advanced", server.findAdvanced)
	tables.GET("/doc/:doc_id", server.getDoc)

	server.httpServer = httptest.NewServer(router)
	server.Url = server.httpServer.URL
	return server
}

func (self *Server) AddUser(database string, user string, password string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.users[userKey{database, user}] = password
}

// while set, every table request fails with `message`. Empty clears it
func (self *Server) FailRequests(message string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.failMessage = message
}

// the current records of a table in insertion order, in wire form
func (self *Server) Records(database string, name string) []map[string]any {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	out := []map[string]any{}
	if t, ok := self.tables[tableKey{database, name}]; ok {
		for _, r := range t.records {
			out = append(out, r.json())
		}
	}
	return out
}

func (self *Server) Close() {
	self.CloseClients()
	self.httpServer.Close()
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "",
		"data":    data,
	})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": message,
		"data":    nil,
	})
}

func (self *Server) issueToken(database string, user string) (string, error) {
	now := time.Now()
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"database": database,
		"user":     user,
		"sub":      user,
		"iat":      now.Unix(),
		"exp":      now.Add(tokenTtl).Unix(),
	})
	return token.SignedString(self.signingKey)
}

func (self *Server) connect(c *gin.Context) {
	var args struct {
		Name     string `json:"name"`
		User     string `json:"user"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&args); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	self.stateLock.Lock()
	password, found := self.users[userKey{args.Name, args.User}]
	self.stateLock.Unlock()

	if !found || password != args.Password {
		fail(c, http.StatusOK, "Invalid credentials")
		return
	}

	authToken, err := self.issueToken(args.Name, args.User)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, authToken)
}

func (self *Server) authenticate(c *gin.Context) {
	authToken, found := strings.CutPrefix(c.GetHeader("Authorization"), "Basic ")
	if !found || authToken == "" {
		fail(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	claims := gojwt.MapClaims{}
	_, err := gojwt.ParseWithClaims(
		authToken,
		claims,
		func(token *gojwt.Token) (any, error) {
			return self.signingKey, nil
		},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		fail(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	database, _ := claims["database"].(string)
	c.Set("database", database)
	c.Next()
}

func (self *Server) failing(c *gin.Context) {
	self.stateLock.Lock()
	message := self.failMessage
	self.stateLock.Unlock()

	if message != "" {
		fail(c, http.StatusOK, message)
		return
	}
	c.Next()
}

func key(c *gin.Context) tableKey {
	return tableKey{
		database: c.GetString("database"),
		name:     c.Param("name"),
	}
}

// requires the state lock
func (self *Server) table(k tableKey) *table {
	t, found := self.tables[k]
	if !found {
		t = &table{}
		self.tables[k] = t
	}
	return t
}

func (self *Server) getTable(c *gin.Context) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	t, found := self.tables[key(c)]
	if !found || len(t.records) == 0 {
		ok(c, nil)
		return
	}
	ok(c, t.records[len(t.records)-1].json())
}

func (self *Server) persist(c *gin.Context) {
	var args struct {
		Data map[string]any `json:"data"`
	}
	if err := c.ShouldBindJSON(&args); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if args.Data == nil {
		args.Data = map[string]any{}
	}

	k := key(c)

	self.stateLock.Lock()
	t := self.table(k)
	r := &record{
		docId: uuid.NewString(),
		data:  args.Data,
	}
	t.records = append(t.records, r)
	state := r.json()
	t.history = append(t.history, state)
	self.stateLock.Unlock()

	ok(c, state)
	self.broadcastEvent(k, "TablePersist", state)
}

func (self *Server) update(c *gin.Context) {
	var args struct {
		Data  map[string]any `json:"data"`
		DocId string         `json:"doc_id"`
	}
	if err := c.ShouldBindJSON(&args); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if args.Data == nil {
		args.Data = map[string]any{}
	}

	k := key(c)

	self.stateLock.Lock()
	t := self.table(k)
	var r *record
	switch {
	case args.DocId != "":
		r = t.find(args.DocId)
		if r == nil {
			self.stateLock.Unlock()
			fail(c, http.StatusOK, fmt.Sprintf("Document %s not found", args.DocId))
			return
		}
		r.data = args.Data
	case len(t.records) == 0:
		// no item to update yet, create the first one
		r = &record{
			docId: uuid.NewString(),
			data:  args.Data,
		}
		t.records = append(t.records, r)
	default:
		r = t.records[len(t.records)-1]
		r.data = args.Data
	}
	state := r.json()
	t.history = append(t.history, state)
	self.stateLock.Unlock()

	ok(c, state)
	self.broadcastEvent(k, "TableUpdate", state)
}

func (self *Server) history(c *gin.Context) {
	limit := defaultHistoryLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			fail(c, http.StatusBadRequest, fmt.Sprintf("Invalid limit %q", limitStr))
			return
		}
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	states := []map[string]any{}
	if t, found := self.tables[key(c)]; found {
		for i := len(t.history) - 1; 0 <= i && len(states) < limit; i -= 1 {
			states = append(states, t.history[i])
		}
	}
	ok(c, states)
}

// requires the state lock
func (self *Server) match(k tableKey, limit int, reverse bool, matches func(data map[string]any) bool) []map[string]any {
	if limit <= 0 {
		limit = defaultFindLimit
	}
	found := []map[string]any{}
	t, exists := self.tables[k]
	if !exists {
		return found
	}
	n := len(t.records)
	for i := 0; i < n && len(found) < limit; i += 1 {
		r := t.records[i]
		if reverse {
			r = t.records[n-1-i]
		}
		if matches(r.data) {
			found = append(found, r.json())
		}
	}
	return found
}

func (self *Server) find(c *gin.Context) {
	var args struct {
		Criteria map[string]any `json:"criteria"`
		Limit    int            `json:"limit"`
		Reverse  bool           `json:"reverse"`
	}
	if err := c.ShouldBindJSON(&args); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	ok(c, self.match(key(c), args.Limit, args.Reverse, func(data map[string]any) bool {
		return matchBasic(data, args.Criteria)
	}))
}

func (self *Server) findAdvanced(c *gin.Context) {
	var args struct {
		Criteria []advancedCriteria `json:"criteria"`
		Limit    int                `json:"limit"`
		Reverse  bool               `json:"reverse"`
	}
	if err := c.ShouldBindJSON(&args); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	for _, criteria := range args.Criteria {
		if !validOperator(criteria.Operator) {
			fail(c, http.StatusOK, fmt.Sprintf("Invalid operator %s", criteria.Operator))
			return
		}
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	ok(c, self.match(key(c), args.Limit, args.Reverse, func(data map[string]any) bool {
		return matchAdvanced(data, args.Criteria)
	}))
}

func (self *Server) getDoc(c *gin.Context) {
	docId := c.Param("doc_id")

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if t, found := self.tables[key(c)]; found {
		if r := t.find(docId); r != nil {
			ok(c, r.json())
			return
		}
	}
	fail(c, http.StatusOK, fmt.Sprintf("Document %s not found", docId))
}

func (self *Server) events(c *gin.Context) {
	ws, err := self.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the error response
		glog.Infof("[chaindbtest]upgrade error = %s\n", err)
		return
	}

	cl := &client{
		database: c.GetString("database"),
		ws:       ws,
	}

	self.clientsLock.Lock()
	self.clients[cl] = true
	self.clientsLock.Unlock()

	defer func() {
		self.clientsLock.Lock()
		delete(self.clients, cl)
		self.clientsLock.Unlock()
		ws.Close()
	}()

	// server to client only. read until the client goes away
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (self *Server) broadcastEvent(k tableKey, eventType string, data map[string]any) {
	frame, err := json.Marshal(map[string]any{
		"event_type": eventType,
		"database":   k.database,
		"table":      k.name,
		"data":       data,
		"timestamp":  time.Now().UnixMilli(),
	})
	if err != nil {
		glog.Infof("[chaindbtest]event encode error = %s\n", err)
		return
	}
	self.send(frame, func(cl *client) bool {
		return cl.database == k.database
	})
}

// sends a raw frame to every connected client
func (self *Server) Broadcast(frame []byte) {
	self.send(frame, func(cl *client) bool {
		return true
	})
}

func (self *Server) send(frame []byte, include func(cl *client) bool) {
	self.clientsLock.Lock()
	clients := []*client{}
	for cl := range self.clients {
		if include(cl) {
			clients = append(clients, cl)
		}
	}
	self.clientsLock.Unlock()

	for _, cl := range clients {
		if err := cl.write(frame); err != nil {
			glog.Infof("[chaindbtest]write error = %s\n", err)
		}
	}
}

func (self *Server) ClientCount() int {
	self.clientsLock.Lock()
	defer self.clientsLock.Unlock()
	return len(self.clients)
}

// waits until at least `n` event clients are connected
func (self *Server) WaitForClients(n int, timeout time.Duration) bool {
	end := time.Now().Add(timeout)
	for {
		if n <= self.ClientCount() {
			return true
		}
		if end.Before(time.Now()) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// closes every event client from the server side with a normal close frame
func (self *Server) CloseClients() {
	self.clientsLock.Lock()
	clients := []*client{}
	for cl := range self.clients {
		clients = append(clients, cl)
	}
	self.clientsLock.Unlock()

	for _, cl := range clients {
		cl.writeLock.Lock()
		cl.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
		cl.writeLock.Unlock()
		cl.ws.Close()
	}
}

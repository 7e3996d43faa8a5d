package chaindb

import (
	"flag"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/bringyour/chaindb/chaindb/chaindbtest"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

const testDatabase = "test-db"
const testUser = "root"
const testPassword = "1234"

type greeting struct {
	Greeting string `json:"greeting"`
	Age      int    `json:"age,omitempty"`
}

func testConnection(server *chaindbtest.Server) Connection {
	return Connection{
		Server:   server.Url,
		Database: testDatabase,
		User:     testUser,
		Password: testPassword,
	}
}

func newTestServer(t *testing.T) *chaindbtest.Server {
	server := chaindbtest.NewServer()
	server.AddUser(testDatabase, testUser, testPassword)
	t.Cleanup(server.Close)
	return server
}

func newTestChainDB(t *testing.T) (*chaindbtest.Server, *ChainDB) {
	server := newTestServer(t)
	db, err := Connect(testConnection(server))
	assert.Equal(t, err, nil)
	t.Cleanup(db.Close)
	return server, db
}

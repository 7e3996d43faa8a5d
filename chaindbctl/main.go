package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/bringyour/chaindb/chaindb"
)

const ChainDBCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(`ChainDB control.

Connection values are read from the config file, then CHAINDB_SERVER,
CHAINDB_DATABASE, CHAINDB_USER, CHAINDB_PASSWORD (also from ./.env),
then the options. The default server is %s.

Usage:
    chaindbctl connect [options]
    chaindbctl token [options]
    chaindbctl get <table> [options]
    chaindbctl persist <table> <data_json> [options]
    chaindbctl update <table> <data_json> [options]
    chaindbctl history <table> [--limit=<limit>] [options]
    chaindbctl find <table> <criteria_json> [--limit=<limit>] [--oldest_first] [options]
    chaindbctl find-advanced <table> <criteria_json> [--limit=<limit>] [--oldest_first] [options]
    chaindbctl doc <table> <doc_id> [options]
    chaindbctl update-doc <table> <doc_id> <data_json> [options]
    chaindbctl listen [--event=<event>...] [--event_count=<event_count>] [options]

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --config=<config>                Config file. Default $HOME/.chaindb/config.yaml
    --server=<server>                Server url.
    --database=<database>
    --user=<user>
    --password=<password>            Prompted when not set anywhere.
    --limit=<limit>                  Max number of results.
    --oldest_first                   Find in insertion order.
    --event=<event>                  TablePersist or TableUpdate. Default both.
    --event_count=<event_count>      Print this many events then exit.`, chaindb.DefaultServer)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ChainDBCtlVersion)
	if err != nil {
		panic(err)
	}

	if err := loadDotEnv(".env"); err != nil {
		Err.Fatalf("%s", err)
	}

	if err := run(opts); err != nil {
		Err.Fatalf("%s", err)
	}
}

// commands return their error so that deferred closes run before exit
func run(opts docopt.Opts) error {
	if connect_, _ := opts.Bool("connect"); connect_ {
		return connect(opts)
	} else if token_, _ := opts.Bool("token"); token_ {
		return token(opts)
	} else if get_, _ := opts.Bool("get"); get_ {
		return get(opts)
	} else if persist_, _ := opts.Bool("persist"); persist_ {
		return persist(opts)
	} else if update_, _ := opts.Bool("update"); update_ {
		return update(opts)
	} else if history_, _ := opts.Bool("history"); history_ {
		return history(opts)
	} else if find_, _ := opts.Bool("find"); find_ {
		return find(opts)
	} else if findAdvanced_, _ := opts.Bool("find-advanced"); findAdvanced_ {
		return findAdvanced(opts)
	} else if doc_, _ := opts.Bool("doc"); doc_ {
		return doc(opts)
	} else if updateDoc_, _ := opts.Bool("update-doc"); updateDoc_ {
		return updateDoc(opts)
	} else if listen_, _ := opts.Bool("listen"); listen_ {
		return listen(opts)
	}
	return nil
}

func connectWithContext(ctx context.Context, opts docopt.Opts) (*chaindb.ChainDB, error) {
	configPath := optString(opts, "--config")
	if configPath == "" {
		configPath = defaultConfigPath()
	}
	v, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	connection := resolveConnection(v, opts)

	if connection.Password == "" && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Print("Enter password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return nil, err
		}
		connection.Password = string(passwordBytes)
		fmt.Printf("\n")
	}

	return chaindb.ConnectWithContext(ctx, connection, chaindb.DefaultChainDBSettings())
}

func printJson(v any) error {
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	Out.Printf("%s", out)
	return nil
}

func parseJson[T any](opts docopt.Opts, key string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(optString(opts, key)), &v); err != nil {
		return v, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func optInt(opts docopt.Opts, key string) (int, error) {
	if opts[key] == nil {
		return 0, nil
	}
	value, err := opts.Int(key)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}

func openTable(db *chaindb.ChainDB, opts docopt.Opts) *chaindb.Table[map[string]any] {
	return chaindb.NewTable[map[string]any](db, optString(opts, "<table>"))
}

func connect(opts docopt.Opts) error {
	db, err := connectWithContext(context.Background(), opts)
	if err != nil {
		return err
	}
	defer db.Close()

	session := db.Session()
	Out.Printf("server: %s\n", session.ServerUrl())
	Out.Printf("database: %s\n", session.Database())

	// opaque tokens are fine, there is just nothing more to show
	if claims, err := session.TokenClaims(); err == nil {
		Out.Printf("user: %s\n", claims.User)
		if !claims.ExpiresAt.IsZero() {
			Out.Printf("expires: %s\n", claims.ExpiresAt.Format(time.RFC3339))
		}
	}
	return nil
}

func token(opts docopt.Opts) error {
	db, err := connectWithContext(context.Background(), opts)
	if err != nil {
		return err
	}
	defer db.Close()

	Out.Printf("%s\n", db.Session().AuthToken())
	return nil
}

func get(opts docopt.Opts) error {
	db, err := connectWithContext(context.Background(), opts)
	if err != nil {
		return err
	}
	defer db.Close()

	table := openTable(db, opts)
	if err := table.Refetch(); err != nil {
		return err
	}
	if table.IsEmpty() {
		Out.Printf("null")
		return nil
	}
	return printJson(chaindb.DocWithId[map[string]any]{
		DocId: table.DocId(),
		Doc:   table.Get(),
	})
}

func persist(opts docopt.Opts) error {
	db, err := connectWithContext(context.Background(), opts)
	if err != nil {
		return err
	}
	defer db.Close()

	data, err := parseJson[map[string]any](opts, "<data_json>")
	if err != nil {
		return err
	}
	table := openTable(db, opts)
	table.Set(data)
	if err := table.Persist(); err != nil {
		return err
	}
	return printJson(chaindb.DocWithId[map[string]any]{
		DocId: table.DocId(),
		Doc:   table.Get(),
	})
}

func update(opts docopt.Opts) error {
	db, err := connectWithContext(context.Background(), opts)
	if err != nil {
		return err
	}
	defer db.Close()

	data, err := parseJson[map[string]any](opts, "<data_json>")
	if err != nil {
		return err
	}
	table := openTable(db, opts)
	table.Set(data)
	return table.Update()
}

func history(opts docopt.Opts) error {
	db, err := connectWithContext(context.Background(), opts)
	if err != nil {
		return err
	}
	defer db.Close()

	limit, err := optInt(opts, "--limit")
	if err != nil {
		return err
	}
	table := openTable(db, opts)
	states, err := table.GetHistory(limit)
	if err != nil {
		return err
	}
	return printJson(states)
}

func findOptions(opts docopt.Opts) ([]chaindb.FindOption, error) {
	limit, err := optInt(opts, "--limit")
	if err != nil {
		return nil, err
	}
	oldestFirst, _ := opts.Bool("--oldest_first")
	return []chaindb.FindOption{
		chaindb.WithLimit(limit),
		chaindb.WithReverse(!oldestFirst),
	}, nil
}

// e.g. chaindbctl find greeting '{"age": 44}'
func find(opts docopt.Opts) error {
	db, err := connectWithContext(context.Background(), opts)
	if err != nil {
		return err
	}
	defer db.Close()

	criteria, err := parseJson[chaindb.Criteria](opts, "<criteria_json>")
	if err != nil {
		return err
	}
	findOpts, err := findOptions(opts)
	if err != nil {
		return err
	}
	table := openTable(db, opts)
	found, err := table.FindWhere(criteria, findOpts...)
	if err != nil {
		return err
	}
	return printJson(found)
}

// e.g. chaindbctl find-advanced greeting '[{"field": "age", "operator": "Gt", "value": 40}]'
func findAdvanced(opts docopt.Opts) error {
	db, err := connectWithContext(context.Background(), opts)
	if err != nil {
		return err
	}
	defer db.Close()

	criteria, err := parseJson[[]chaindb.CriteriaAdvanced](opts, "<criteria_json>")
	if err != nil {
		return err
	}
	findOpts, err := findOptions(opts)
	if err != nil {
		return err
	}
	table := openTable(db, opts)
	found, err := table.FindWhereAdvanced(criteria, findOpts...)
	if err != nil {
		return err
	}
	return printJson(found)
}

func doc(opts docopt.Opts) error {
	db, err := connectWithContext(context.Background(), opts)
	if err != nil {
		return err
	}
	defer db.Close()

	table := openTable(db, opts)
	d, err := table.GetDoc(optString(opts, "<doc_id>"))
	if err != nil {
		return err
	}
	return printJson(chaindb.DocWithId[map[string]any]{
		DocId: d.DocId(),
		Doc:   d.Get(),
	})
}

func updateDoc(opts docopt.Opts) error {
	db, err := connectWithContext(context.Background(), opts)
	if err != nil {
		return err
	}
	defer db.Close()

	data, err := parseJson[map[string]any](opts, "<data_json>")
	if err != nil {
		return err
	}
	table := openTable(db, opts)
	d, err := table.GetDoc(optString(opts, "<doc_id>"))
	if err != nil {
		return err
	}
	d.Set(data)
	return d.Update()
}

// prints events as they arrive until interrupted
func listen(opts docopt.Opts) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eventCount, err := optInt(opts, "--event_count")
	if err != nil {
		return err
	}

	db, err := connectWithContext(ctx, opts)
	if err != nil {
		return err
	}
	defer db.Close()

	eventNames, _ := opts["--event"].([]string)
	if len(eventNames) == 0 {
		eventNames = []string{chaindb.EventTablePersist, chaindb.EventTableUpdate}
	}

	received := make(chan *chaindb.EventData, 64)
	for _, eventName := range eventNames {
		_, err := db.Subscribe(eventName, func(event *chaindb.EventData) {
			select {
			case received <- event:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return err
		}
	}
	Err.Printf("listening for %v\n", eventNames)

	closedCheck := time.NewTicker(time.Second)
	defer closedCheck.Stop()

	for i := 0; eventCount <= 0 || i < eventCount; {
		select {
		case <-ctx.Done():
			return nil
		case event := <-received:
			if err := printJson(event); err != nil {
				return err
			}
			i += 1
		case <-closedCheck.C:
			if db.Events().State() == chaindb.EventsStateClosed {
				Err.Printf("event channel closed\n")
				return nil
			}
		}
	}
	return nil
}

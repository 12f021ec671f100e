// Command wakdb is a small operator CLI over the storage engine:
// create and drop databases, register tables, and inspect raw pages.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"wakdb/internal/catalog"
	"wakdb/internal/config"
	"wakdb/internal/engine"
	"wakdb/internal/storage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("wakdb", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("wakdb", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to yaml config file")
	fs.Usage = usage(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}

	// .env is optional; real deployments set WAKDB_ variables directly.
	_ = godotenv.Load()

	container := dig.New()
	constructors := []interface{}{
		func() (*config.Config, error) { return config.Load(*cfgPath) },
		engine.Open,
	}
	for _, c := range constructors {
		if err := container.Provide(c); err != nil {
			return err
		}
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	return container.Invoke(func(cfg *config.Config, eng *engine.Engine) error {
		defer eng.Close()
		setupLogger(cfg)
		return dispatch(eng, cmd, rest)
	})
}

func setupLogger(cfg *config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func dispatch(eng *engine.Engine, cmd string, args []string) error {
	switch cmd {
	case "init":
		// Open already bootstrapped the master database.
		fmt.Println("ok")
		return nil
	case "create":
		return createDatabase(eng, args)
	case "drop":
		return dropDatabase(eng, args)
	case "dbs":
		return listDatabases(eng)
	case "create-table":
		return createTable(eng, args)
	case "tables":
		return listTables(eng, args)
	case "columns":
		return listColumns(eng, args)
	case "inspect":
		return inspectPage(eng, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func createDatabase(eng *engine.Engine, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: wakdb create <database>")
	}
	db, err := eng.CreateDatabase(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("created database %s (id=%d)\n", db.Name(), db.ID())
	return nil
}

func dropDatabase(eng *engine.Engine, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: wakdb drop <database>")
	}
	return eng.DropDatabase(args[0])
}

func listDatabases(eng *engine.Engine) error {
	dbs, err := eng.ListDatabases()
	if err != nil {
		return err
	}
	for _, db := range dbs {
		fmt.Printf("%d\t%s\tv%d\n", db.ID, db.Name, db.Version)
	}
	return nil
}

// createTable parses column specs of the form name:type[:null], e.g.
// "id:int" "name:string:null".
func createTable(eng *engine.Engine, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: wakdb create-table <database> <table> <col:type[:null]>...")
	}
	var cols []catalog.ColumnSpec
	for i, spec := range args[2:] {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 {
			return fmt.Errorf("bad column spec %q", spec)
		}
		cols = append(cols, catalog.ColumnSpec{
			Name:       parts[0],
			DataType:   parts[1],
			Position:   uint16(i),
			IsNullable: len(parts) > 2 && parts[2] == "null",
		})
	}
	tbl, err := eng.CreateTable(args[0], args[1], cols)
	if err != nil {
		return err
	}
	fmt.Printf("created table %s (id=%d)\n", tbl.Name, tbl.ID)
	return nil
}

func listTables(eng *engine.Engine, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: wakdb tables <database>")
	}
	tables, err := eng.ListTables(args[0])
	if err != nil {
		return err
	}
	for _, t := range tables {
		fmt.Printf("%d\t%s\n", t.ID, t.Name)
	}
	return nil
}

func listColumns(eng *engine.Engine, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: wakdb columns <database> <table>")
	}
	cols, err := eng.ListColumns(args[0], args[1])
	if err != nil {
		return err
	}
	for _, c := range cols {
		null := "not null"
		if c.IsNullable {
			null = "null"
		}
		fmt.Printf("%d\t%s\t%s\t%s\n", c.Position, c.Name, c.DataType, null)
	}
	return nil
}

func inspectPage(eng *engine.Engine, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: wakdb inspect <database> <page>")
	}
	pageNo, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("bad page number %q", args[1])
	}

	db, err := eng.OpenDatabase(args[0])
	if err != nil {
		return err
	}
	txn := db.Begin()
	defer txn.Abort()

	raw, err := txn.ReadPage(uint32(pageNo))
	if err != nil {
		return err
	}
	page, err := storage.LoadPage(raw)
	if err != nil {
		return err
	}
	return page.Debug(os.Stdout)
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintln(os.Stderr, `usage: wakdb [-config file] <command> [args]

commands:
  init                                    bootstrap the data directory
  create <database>                       create a database
  drop <database>                         drop a database
  dbs                                     list databases
  create-table <db> <table> <col:type>... register a table
  tables <database>                       list tables
  columns <database> <table>              list columns
  inspect <database> <page>               dump a page`)
		fs.PrintDefaults()
	}
}

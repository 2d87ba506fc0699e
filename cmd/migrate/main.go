package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/epehc/crm-auth-service/internal/config"
	"github.com/epehc/crm-auth-service/internal/migrate"
	"github.com/epehc/crm-auth-service/internal/store/pg"
	"github.com/epehc/crm-auth-service/internal/store/sqlite"
)

type migrateEnv struct {
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`
}

func main() {
	log.SetFlags(0)
	var envCfg migrateEnv
	if err := config.ParseEnv(&envCfg); err != nil {
		log.Fatal(err)
	}
	var (
		dsn        = flag.String("dsn", envCfg.DatabaseURL, "PostgreSQL DSN")
		sqlitePath = flag.String("sqlite", envCfg.SQLitePath, "SQLite database file (used when no DSN is given)")
		seedsPath  = flag.String("seeds", "", "Directory of SQL seed files")
	)
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [-dsn url | -sqlite path] [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var seeds fs.FS
	if *seedsPath != "" {
		seeds = os.DirFS(*seedsPath)
	}
	mgr, closeDB, err := openManager(ctx, *dsn, *sqlitePath, seeds)
	if err != nil {
		log.Fatal(err)
	}
	defer closeDB()

	if err := run(ctx, mgr, flag.Arg(0), os.Stdout); err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func openManager(ctx context.Context, dsn, sqlitePath string, seeds fs.FS) (*migrate.Manager, func() error, error) {
	switch {
	case dsn != "":
		store, err := pg.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return migrate.NewManager(store.DB(), pg.Migrations(), seeds), store.Close, nil
	case sqlitePath != "":
		// sqlite.Open already applies pending migrations.
		store, err := sqlite.Open(sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		return migrate.NewManager(store.DB(), sqlite.Migrations(), seeds, migrate.WithDialect(migrate.SQLite)), store.Close, nil
	}
	return nil, nil, errors.New("missing database: provide -dsn / DATABASE_URL or -sqlite / SQLITE_PATH")
}

func run(ctx context.Context, mgr *migrate.Manager, cmd string, out io.Writer) error {
	switch cmd {
	case "up":
		return mgr.Up(ctx)
	case "down":
		return mgr.Down(ctx)
	case "seed":
		return mgr.Seed(ctx)
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		pending, err := mgr.Pending(ctx)
		if err != nil {
			return err
		}
		for _, name := range applied {
			fmt.Fprintf(out, "applied  %s\n", name)
		}
		for _, name := range pending {
			fmt.Fprintf(out, "pending  %s\n", name)
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// Command rolectl manages user roles. Role changes go through the RoleAdmin
// gRPC service with a bearer token; bootstrap writes the directory directly
// for recovering a deployment without any administrator.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/epehc/crm-auth-service/internal/audit"
	"github.com/epehc/crm-auth-service/internal/auth"
	"github.com/epehc/crm-auth-service/internal/config"
	"github.com/epehc/crm-auth-service/internal/grpcapi"
	"github.com/epehc/crm-auth-service/internal/store/pg"
	"github.com/epehc/crm-auth-service/internal/store/sqlite"
)

type rolectlEnv struct {
	Addr        string `env:"ROLECTL_ADDR" envDefault:"localhost:4002"`
	Token       string `env:"ROLECTL_TOKEN"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`
}

const usage = `usage: rolectl [-addr host:port] [-token JWT] <command> [flags]

commands:
  grant-admin  -user ID
  revoke-admin -user ID
  assign       -user ID -roles Admin,Recruiter
  show         -user ID
  bootstrap    -user ID   (direct database access, no token)`

var errUsage = errors.New(usage)

// dial opens the RoleAdmin client. Tests swap it for an in-process connection.
var dial = grpcapi.Dial

func main() {
	log.SetFlags(0)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var env rolectlEnv
	if err := config.ParseEnv(&env); err != nil {
		return err
	}
	global := flag.NewFlagSet("rolectl", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	addr := global.String("addr", env.Addr, "RoleAdmin gRPC address")
	token := global.String("token", env.Token, "bearer token of an administrator")
	if err := global.Parse(args); err != nil {
		return errUsage
	}
	rest := global.Args()
	if len(rest) == 0 {
		return errUsage
	}
	cmd, cmdArgs := rest[0], rest[1:]

	sub := flag.NewFlagSet(cmd, flag.ContinueOnError)
	sub.SetOutput(io.Discard)
	userID := sub.String("user", "", "target user id")
	roles := sub.String("roles", "", "comma separated roles (assign)")
	if err := sub.Parse(cmdArgs); err != nil {
		return errUsage
	}
	if strings.TrimSpace(*userID) == "" {
		return fmt.Errorf("%s: -user is required", cmd)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if cmd == "bootstrap" {
		return bootstrap(ctx, env, *userID, out)
	}

	if strings.TrimSpace(*token) == "" {
		return errors.New("a bearer token is required: pass -token or set ROLECTL_TOKEN")
	}
	client, err := dial(*addr, *token)
	if err != nil {
		return err
	}
	defer client.Close()

	switch cmd {
	case "grant-admin":
		res, err := client.GrantAdmin(ctx, *userID)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"message": res.Message, "user": res.User})
	case "revoke-admin":
		res, err := client.RevokeAdmin(ctx, *userID)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"message": res.Message, "user": res.User})
	case "assign":
		res, err := client.AssignRoles(ctx, *userID, splitRoles(*roles))
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"message": res.Message, "user": res.User})
	case "show":
		u, err := client.GetUser(ctx, *userID)
		if err != nil {
			return err
		}
		return printJSON(out, u)
	}
	return errUsage
}

func bootstrap(ctx context.Context, env rolectlEnv, userID string, out io.Writer) error {
	dir, closeDir, err := openDirectory(ctx, env)
	if err != nil {
		return err
	}
	defer closeDir()

	ctx = auth.ContextWithIdentity(ctx, auth.SystemIdentity())
	admin := auth.NewAdministration(dir, nil, nil)
	admin.SetAuditor(audit.RecordRoleChange)
	u, err := admin.GrantAdmin(audit.WithRequestID(ctx, "rolectl-bootstrap"), userID)
	if err != nil {
		return fmt.Errorf("bootstrap %s: %w", userID, err)
	}
	return printJSON(out, map[string]any{"message": "User is now an admin", "user": u.View()})
}

func openDirectory(ctx context.Context, env rolectlEnv) (auth.Directory, func() error, error) {
	switch {
	case env.DatabaseURL != "":
		store, err := pg.Open(ctx, env.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case env.SQLitePath != "":
		store, err := sqlite.Open(env.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return nil, nil, errors.New("bootstrap needs DATABASE_URL or SQLITE_PATH")
}

func splitRoles(raw string) []string {
	var out []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

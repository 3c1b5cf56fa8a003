// Command toolctl registers, inspects, and removes tool servers from the
// connection manager's persisted configuration (§4.5). It is an addition
// this implementation makes beyond the distilled spec: an operator needs
// some way to get a server's connection details into the database before
// a worker process will dial it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/loomwork/loom/internal/config"
	"github.com/loomwork/loom/internal/database"
	"github.com/loomwork/loom/internal/models"
	"github.com/loomwork/loom/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect to database:", err)
		os.Exit(1)
	}
	repo := store.NewServerRepository(db)
	ctx := context.Background()

	switch os.Args[1] {
	case "register":
		runRegister(ctx, repo, os.Args[2:])
	case "list":
		runList(ctx, repo)
	case "remove":
		runRemove(ctx, repo, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  toolctl register -id <id> -tenant <tenant> -transport stdio -command <cmd> [-args "a,b,c"]
  toolctl register -id <id> -tenant <tenant> -transport http|websocket -url <url>
  toolctl list
  toolctl remove -id <id>`)
}

func runRegister(ctx context.Context, repo *store.ServerRepository, args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	id := fs.String("id", "", "server id")
	tenant := fs.String("tenant", "", "tenant id")
	transport := fs.String("transport", "", "stdio, http, or websocket")
	command := fs.String("command", "", "subprocess command (stdio)")
	argList := fs.String("args", "", "comma-separated subprocess args (stdio)")
	url := fs.String("url", "", "server URL (http, websocket)")
	fs.Parse(args)

	if *id == "" || *transport == "" {
		usage()
		os.Exit(1)
	}

	server := &models.RegisteredServer{
		ID:        *id,
		TenantID:  *tenant,
		Transport: *transport,
		Command:   *command,
		URL:       *url,
		Status:    "disconnected",
	}
	if *argList != "" {
		for _, a := range strings.Split(*argList, ",") {
			server.Args = append(server.Args, a)
		}
	}

	if err := repo.SaveServer(ctx, server); err != nil {
		fmt.Fprintln(os.Stderr, "save server:", err)
		os.Exit(1)
	}
	fmt.Printf("registered server %q\n", *id)
}

func runList(ctx context.Context, repo *store.ServerRepository) {
	servers, err := repo.LoadAllServers(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list servers:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(servers)
}

func runRemove(ctx context.Context, repo *store.ServerRepository, args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	id := fs.String("id", "", "server id")
	fs.Parse(args)
	if *id == "" {
		usage()
		os.Exit(1)
	}
	if err := repo.DB().WithContext(ctx).Delete(&models.RegisteredServer{}, "id = ?", *id).Error; err != nil {
		fmt.Fprintln(os.Stderr, "remove server:", err)
		os.Exit(1)
	}
	fmt.Printf("removed server %q\n", *id)
}

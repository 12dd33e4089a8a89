package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Strob0t/AgentMesh/internal/adapter/memory"
	"github.com/Strob0t/AgentMesh/internal/adapter/postgres"
	"github.com/Strob0t/AgentMesh/internal/adapter/ristretto"
	"github.com/Strob0t/AgentMesh/internal/config"
	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/project"
	"github.com/Strob0t/AgentMesh/internal/domain/user"
	"github.com/Strob0t/AgentMesh/internal/logger"
	"github.com/Strob0t/AgentMesh/internal/service"
)

// errInterrupted marks a prompt aborted by the user (Ctrl-C during a raw
// terminal read). The caller exits with 130.
var errInterrupted = errors.New("interrupted")

// runAdmin dispatches admin subcommands (reset-password, create-user,
// list-users, seed).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "reset-password":
		return runAdminResetPassword(args[1:])
	case "create-user":
		return runAdminCreateUser(args[1:])
	case "list-users":
		return runAdminListUsers(args[1:])
	case "seed":
		return runAdminSeed(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: agentmesh admin <command> [options]

Commands:
  reset-password   Reset a user's password
  create-user      Create a new user
  list-users       List all users
  seed             Create the canonical seed project and print its keys
  help             Show this help message

Examples:
  agentmesh admin reset-password --username admin
  agentmesh admin reset-password --username admin --password NewPass123!!
  agentmesh admin create-user --username ops --email ops@localhost --admin
  agentmesh admin list-users
  agentmesh admin seed --project default
`)
}

func loadAdminDeps() (*service.AuthService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	store := postgres.NewStore(pool)
	authSvc := service.NewAuthService(store, &cfg.Auth, logger.New(cfg.Logging))

	cleanup := func() {
		pool.Close()
	}
	return authSvc, cleanup, nil
}

func runAdminResetPassword(args []string) error {
	fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)
	username := fs.String("username", "", "username (required)")
	password := fs.String("password", "", "new password (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *username == "" {
		return fmt.Errorf("--username is required")
	}

	newPass := *password
	if newPass == "" {
		var err error
		newPass, err = promptPassword("New password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if newPass != confirm {
			return fmt.Errorf("passwords do not match")
		}
	}

	authSvc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	if err := authSvc.AdminResetPassword(ctx, *username, newPass); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Password reset successfully for %s\n", *username)
	return nil
}

func runAdminCreateUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	username := fs.String("username", "", "username (required)")
	email := fs.String("email", "", "email address (required)")
	password := fs.String("password", "", "password (prompted if not provided)") //nolint:gosec // CLI flag
	admin := fs.Bool("admin", false, "grant admin role")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *username == "" {
		return fmt.Errorf("--username is required")
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}

	pass := *password
	if pass == "" {
		var err error
		pass, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if pass != confirm {
			return fmt.Errorf("passwords do not match")
		}
	}

	role := user.RoleMember
	if *admin {
		role = user.RoleAdmin
	}

	authSvc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	u, err := authSvc.Register(ctx, &user.CreateRequest{
		Username: *username,
		Email:    *email,
		Password: pass,
		Role:     role,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Fprintf(os.Stderr, "User created: %s (id=%s, role=%s)\n", u.Username, u.ID, u.Role)
	return nil
}

func runAdminListUsers(args []string) error {
	fs := flag.NewFlagSet("list-users", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	authSvc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	users, err := authSvc.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tROLE\tACTIVE")
	for i := range users {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
			users[i].ID, users[i].Username, users[i].Email, users[i].Role, users[i].IsActive)
	}
	return w.Flush()
}

func runAdminSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	projectID := fs.String("project", "", "seed project ID (defaults to the configured one)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	id := *projectID
	if id == "" {
		id = cfg.Broker.SeedProjectID
	}
	if id == "" {
		return fmt.Errorf("no seed project ID configured; pass --project")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	cache, err := ristretto.NewDecisionCache(1024, cfg.Broker.PermissionCacheTTL)
	if err != nil {
		return fmt.Errorf("decision cache: %w", err)
	}
	defer cache.Close()

	log := logger.New(cfg.Logging)
	policy := service.NewAdminPolicy(store, cache, log)
	registry := service.NewRegistryService(store, memory.NewStore(0), policy, log)

	if _, err := registry.Get(ctx, id); err == nil {
		fmt.Fprintf(os.Stderr, "Project %s already exists, nothing to do\n", id)
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	result, err := registry.Create(ctx, &project.CreateRequest{
		ID:   id,
		Name: "Default Project",
	})
	if err != nil {
		return fmt.Errorf("create seed project: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Project %s created. Store these keys now; they are not shown again.\n", id)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY_ID\tAPI_KEY")
	for keyID, plaintext := range result.Keys {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", keyID, plaintext)
	}
	return w.Flush()
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                        // newline after password input
	if err != nil {
		return "", err
	}
	if bytes.ContainsRune(b, 0x03) { // Ctrl-C arrives as a byte in raw mode
		return "", errInterrupted
	}
	return string(b), nil
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Strob0t/feedbacksync/internal/adapter/postgres"
	"github.com/Strob0t/feedbacksync/internal/config"
	"github.com/Strob0t/feedbacksync/internal/domain/integration"
	"github.com/Strob0t/feedbacksync/internal/domain/tenant"
	"github.com/Strob0t/feedbacksync/internal/secrets"
	"github.com/Strob0t/feedbacksync/internal/service"
)

// runAdmin dispatches provisioning subcommands.
func runAdmin(cfg *config.Config, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "create-tenant":
		return runAdminCreateTenant(cfg, args[1:])
	case "create-board":
		return runAdminCreateBoard(cfg, args[1:])
	case "create-integration":
		return runAdminCreateIntegration(cfg, args[1:])
	case "list-integrations":
		return runAdminListIntegrations(cfg, args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: feedbacksync admin <command> [options]

Commands:
  create-tenant        Create a tenant
  create-board         Create a board of a tenant
  create-integration   Connect a tenant to a remote service
  list-integrations    List enabled integrations
  help                 Show this help message

Examples:
  feedbacksync admin create-tenant --name Acme --slug acme --base-url https://acme.feedback.example
  feedbacksync admin create-board --tenant <id> --name Bugs --slug bugs
  feedbacksync admin create-integration --tenant <id> --type github-issues --config mappings.json --cred repo=acme/feedback --prompt token
  feedbacksync admin list-integrations
`)
}

type adminDeps struct {
	store   *postgres.Store
	tenants *service.TenantService
	cleanup func()
}

func loadAdminDeps(cfg *config.Config) (*adminDeps, error) {
	vault, err := secrets.NewVault(secrets.EnvLoader(secrets.KeyCredentials))
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}

	pool, err := postgres.NewPool(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	store := postgres.NewStore(pool)
	return &adminDeps{
		store:   store,
		tenants: service.NewTenantService(store, secrets.NewCipher(vault)),
		cleanup: pool.Close,
	}, nil
}

func runAdminCreateTenant(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create-tenant", flag.ContinueOnError)
	name := fs.String("name", "", "tenant display name (required)")
	slug := fs.String("slug", "", "tenant slug (required)")
	baseURL := fs.String("base-url", "", "public origin of the tenant's feedback site (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	deps, err := loadAdminDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	t, err := deps.tenants.CreateTenant(context.Background(), tenant.CreateRequest{Name: *name, Slug: *slug, BaseURL: *baseURL})
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Tenant created: %s (id=%s)\n", t.Slug, t.ID)
	fmt.Println(t.ID)
	return nil
}

func runAdminCreateBoard(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create-board", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id (required)")
	name := fs.String("name", "", "board name (required)")
	slug := fs.String("slug", "", "board slug (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	deps, err := loadAdminDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	id, err := deps.tenants.CreateBoard(context.Background(), *tenantID, *name, *slug)
	if err != nil {
		return fmt.Errorf("create board: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Board created: %s (id=%s)\n", *slug, id)
	fmt.Println(id)
	return nil
}

// credFlags collects repeated key=value credential flags.
type credFlags map[string]string

func (c credFlags) String() string { return fmt.Sprintf("%d credentials", len(c)) }

func (c credFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("credential %q: expected key=value", v)
	}
	c[k] = val
	return nil
}

func runAdminCreateIntegration(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create-integration", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id (required)")
	typ := fs.String("type", "", "provider type, e.g. github-issues (required)")
	direction := fs.String("direction", string(integration.DirectionBidirectional), "inbound, outbound or bidirectional")
	configPath := fs.String("config", "", "JSON file with board and status mappings")
	prompt := fs.String("prompt", "", "credential key to read from the terminal without echo")
	creds := credFlags{}
	fs.Var(creds, "cred", "credential as key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := &integration.Integration{
		TenantID:      *tenantID,
		Type:          *typ,
		SyncDirection: integration.SyncDirection(*direction),
	}
	if *configPath != "" {
		data, err := os.ReadFile(*configPath) //nolint:gosec // G304: path is chosen by the operator
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &in.Config); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	if *prompt != "" {
		v, err := promptSecret(*prompt + ": ")
		if err != nil {
			return fmt.Errorf("read %s: %w", *prompt, err)
		}
		creds[*prompt] = v
	}

	deps, err := loadAdminDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	created, err := deps.tenants.CreateIntegration(context.Background(), in, creds)
	if err != nil {
		return fmt.Errorf("create integration: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Integration created: %s (id=%s, direction=%s)\n", created.Type, created.ID, created.SyncDirection)
	fmt.Println(created.ID)
	return nil
}

func runAdminListIntegrations(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("list-integrations", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	deps, err := loadAdminDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	ins, err := deps.store.ListEnabledIntegrations(context.Background())
	if err != nil {
		return fmt.Errorf("list integrations: %w", err)
	}
	if len(ins) == 0 {
		fmt.Println("No integrations found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTENANT\tTYPE\tDIRECTION\tLAST_SYNC")
	for i := range ins {
		last := "never"
		if ins[i].LastSyncAt != nil {
			last = ins[i].LastSyncAt.Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ins[i].ID, ins[i].TenantID, ins[i].Type, ins[i].SyncDirection, last)
	}
	return w.Flush()
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

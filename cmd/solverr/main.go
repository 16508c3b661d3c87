package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/odvcencio/solverr/pkg/config"
	"github.com/odvcencio/solverr/pkg/solverr"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var configPath string
	var serviceURL string

	flag.StringVar(&configPath, "config", "", "path to config file (default ~/.solverr/config.yaml)")
	flag.StringVar(&serviceURL, "url", "", "solver service URL (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("solverr %s (%s, built %s)\n", version, commit, buildDate)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatal(err)
	}
	if serviceURL != "" {
		cfg.URL = serviceURL
	}

	client := solverr.NewClientWithOptions(cfg.URL, solverr.ClientOptions{
		MaxTimeout:         cfg.MaxTimeout,
		HTTPTimeout:        cfg.HTTPTimeout,
		NetworkLogsEnabled: cfg.NetworkLogs,
		NetworkLogDir:      cfg.NetworkLogDir,
	})
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, client, cfg, args); err != nil {
		fatal(err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func run(ctx context.Context, client *solverr.Client, cfg *config.Config, args []string) error {
	switch args[0] {
	case "status":
		health, err := client.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(health)

	case "index":
		info, err := client.Index(ctx)
		if err != nil {
			return err
		}
		return printJSON(info)

	case "sessions":
		return runSessions(ctx, client, cfg, args[1:])

	case "get":
		return runRequest(ctx, client, cfg, solverr.CmdRequestGet, args[1:])

	case "post":
		return runRequest(ctx, client, cfg, solverr.CmdRequestPost, args[1:])

	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runSessions(ctx context.Context, client *solverr.Client, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("sessions requires a subcommand: list, create or destroy")
	}

	switch args[0] {
	case "list":
		sessions, err := client.ListSessions(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"sessions": sessions})

	case "create":
		fs := flag.NewFlagSet("sessions create", flag.ExitOnError)
		id := fs.String("id", "", "session identifier (generated when empty)")
		ttl := fs.Duration("ttl", cfg.SessionTTL, "server-side idle TTL (0 for server default)")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		params := solverr.SessionCreateParams{Session: *id, Proxy: proxyFromConfig(cfg)}
		if *id == "" {
			params.Session = solverr.DefaultSessionID()
		}
		if *ttl > 0 {
			params.TTLMinutes = int((*ttl).Minutes())
		}
		resp, err := client.CreateSession(ctx, params)
		if err != nil {
			return err
		}
		return printJSON(resp)

	case "destroy":
		if len(args) < 2 {
			return fmt.Errorf("sessions destroy requires a session id")
		}
		resp, err := client.DestroySession(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(resp)

	default:
		return fmt.Errorf("unknown sessions subcommand %q", args[0])
	}
}

func runRequest(ctx context.Context, client *solverr.Client, cfg *config.Config, cmd solverr.Command, args []string) error {
	fs := flag.NewFlagSet(string(cmd), flag.ExitOnError)
	session := fs.String("session", "", "reuse an existing session")
	cookiesOnly := fs.Bool("cookies-only", false, "return only the solved cookies")
	var formFields multiFlag
	if cmd == solverr.CmdRequestPost {
		fs.Var(&formFields, "data", "form field as name=value (repeatable)")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%s requires exactly one target URL", cmd)
	}

	params := solverr.RequestParams{
		URL:               fs.Arg(0),
		Session:           *session,
		Proxy:             proxyFromConfig(cfg),
		ReturnOnlyCookies: *cookiesOnly,
	}

	var resp *solverr.Response
	var err error
	if cmd == solverr.CmdRequestPost {
		form := url.Values{}
		for _, field := range formFields {
			name, value, ok := strings.Cut(field, "=")
			if !ok {
				return fmt.Errorf("invalid -data value %q, want name=value", field)
			}
			form.Add(name, value)
		}
		params.PostData = solverr.EncodeForm(form)
		resp, err = client.Post(ctx, params)
	} else {
		resp, err = client.Get(ctx, params)
	}
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func proxyFromConfig(cfg *config.Config) *solverr.Proxy {
	if cfg.Proxy.URL == "" {
		return nil
	}
	return &solverr.Proxy{
		URL:      cfg.Proxy.URL,
		Username: cfg.Proxy.Username,
		Password: cfg.Proxy.Password,
	}
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "solverr: %v\n", err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `solverr - client for FlareSolverr-compatible challenge solvers

Usage:
  solverr [flags] <command> [args]

Commands:
  status                       check the solver /health endpoint
  index                        show solver version and user agent
  sessions list                list live server-side sessions
  sessions create [-id] [-ttl] create a session
  sessions destroy <id>        destroy a session
  get [-session] <url>         navigate to a URL through the solver
  post [-session] [-data n=v] <url>
                               submit a form through the solver

Flags:
`)
	flag.PrintDefaults()
}

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

	"github.com/Black-And-White-Club/scorekeeper/app"
	scoringservice "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/application"
	scoringauth "github.com/Black-And-White-Club/scorekeeper/app/modules/scoring/infrastructure/auth"
	"github.com/Black-And-White-Club/scorekeeper/config"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := &cli.App{
		Name:  "scorekeeper",
		Usage: "activity scoring tracker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.yaml",
				Usage:   "path to the configuration file",
				EnvVars: []string{"SCOREKEEPER_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			auditCommand(),
			repairCommand(),
			mergeCommand(),
			tokenCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// withApp builds a command-mode application, runs fn and closes it.
func withApp(c *cli.Context, fn func(svc scoringservice.Service) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)

	application, err := app.New(c.Context, cfg, logger, app.ModeCommand)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Close(ctx); err != nil {
			logger.Error("Error during shutdown", "error", err)
		}
	}()

	return fn(application.ScoringModule.ScoringService)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API, event router and reconcile queue",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg)
			logger.Info("Starting scorekeeper")

			application, err := app.New(c.Context, cfg, logger, app.ModeServe)
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}
			return application.Run(c.Context)
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "compare every stored total with its activity log",
		Action: func(c *cli.Context) error {
			return withApp(c, func(svc scoringservice.Service) error {
				report, err := svc.AuditAll(c.Context)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
}

func repairCommand() *cli.Command {
	return &cli.Command{
		Name:  "repair",
		Usage: "overwrite drifted stored totals with the log-derived score",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "repair a single participant"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(svc scoringservice.Service) error {
				if raw := c.String("id"); raw != "" {
					id, err := uuid.Parse(raw)
					if err != nil {
						return fmt.Errorf("invalid participant id %q: %w", raw, err)
					}
					result, err := svc.RepairOne(c.Context, id)
					if err != nil {
						return err
					}
					return printJSON(result)
				}

				sink := scoringservice.ProgressFunc(func(_ context.Context, p scoringservice.RepairProgress) {
					fmt.Fprintf(os.Stderr, "[%d/%d] %s fixed=%d errors=%d\n",
						p.Current, p.Total, p.CurrentName, p.FixedCount, p.ErrorCount)
				})
				summary, err := svc.RepairAll(c.Context, sink)
				if err != nil {
					return err
				}
				if err := printJSON(summary); err != nil {
					return err
				}
				if summary.Interrupted {
					return cli.Exit("repair interrupted", 130)
				}
				return nil
			})
		},
	}
}

func mergeCommand() *cli.Command {
	return &cli.Command{
		Name:  "merge-duplicates",
		Usage: "merge participants whose names normalize to the same value",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "list duplicate groups without merging"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(svc scoringservice.Service) error {
				if c.Bool("dry-run") {
					groups, err := svc.FindDuplicates(c.Context)
					if err != nil {
						return err
					}
					return printJSON(groups)
				}
				summary, err := svc.MergeDuplicates(c.Context)
				if err != nil {
					return err
				}
				return printJSON(summary)
			})
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "issue an API token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Required: true, Usage: "who the token is issued to"},
			&cli.StringFlag{Name: "role", Value: string(scoringauth.RoleAdmin), Usage: "admin or viewer"},
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime (defaults to jwt.default_ttl)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			provider, err := scoringauth.NewProvider(cfg.JWT.Secret, cfg.JWT.Issuer)
			if err != nil {
				return err
			}

			role := scoringauth.Role(c.String("role"))
			if role != scoringauth.RoleAdmin && role != scoringauth.RoleViewer {
				return fmt.Errorf("unknown role %q", role)
			}
			ttl := c.Duration("ttl")
			if ttl <= 0 {
				ttl = cfg.JWT.DefaultTTL
			}

			token, err := provider.GenerateToken(c.String("subject"), role, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/medcase/internal/config"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/llm"
	"github.com/hpungsan/medcase/internal/logger"
	"github.com/hpungsan/medcase/internal/ops"
	"github.com/hpungsan/medcase/internal/session"
	"github.com/hpungsan/medcase/internal/web"
)

// appEnv holds what every command needs once the database is open.
type appEnv struct {
	baseDir string
	db      *sql.DB
	cfg     *config.Config
	log     *logger.Logger
	policy  ops.PathPolicy
}

// newCLIApp creates the CLI application with all commands. env is nil for
// --help and --version.
func newCLIApp(env *appEnv) *cli.App {
	app := &cli.App{
		Name:    "medcase",
		Usage:   "Clinical case tutor",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(env),
			mcpCmd(env),
			caseCmd(env),
			instructionCmd(env),
			userCmd(env),
			attemptsCmd(env),
			exportCmd(env),
			importCmd(env),
			sessionCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// newTutor builds the conversation collaborators. A missing API key leaves
// the tutor without a model; stages then answer with a degraded reply.
func newTutor(env *appEnv) *ops.Tutor {
	tutor := &ops.Tutor{DB: env.db, Config: env.cfg, Log: env.log}
	client, err := llm.NewOpenAIClient(env.cfg, env.log)
	if err != nil {
		env.log.Warn("model client unavailable", "error", err)
		tutor.LLMErr = err
		return tutor
	}
	tutor.LLM = client
	return tutor
}

func serveCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the web tutor",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Listen address (default from config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port (default from config)"},
		},
		Action: func(c *cli.Context) error {
			if bind := c.String("bind"); bind != "" {
				env.cfg.Bind = bind
			}
			if port := c.Int("port"); port > 0 {
				env.cfg.Port = port
			}

			store, err := session.NewStore(env.cfg, env.db)
			if err != nil {
				return outputError(err)
			}
			if closer, ok := store.(io.Closer); ok {
				defer closer.Close()
			}
			if sqlStore, ok := store.(*session.SQLStore); ok {
				if n, err := sqlStore.Purge(c.Context); err != nil {
					env.log.Warn("session purge failed", "error", err)
				} else if n > 0 {
					env.log.Info("expired sessions purged", "count", n)
				}
			}

			ttl := time.Duration(env.cfg.SessionTTLHours) * time.Hour
			sessions := session.NewManager(store, ttl, env.cfg.CookieSecure, env.log)

			srv, err := web.NewServer(newTutor(env), sessions, Version)
			if err != nil {
				return outputError(err)
			}
			return web.Run(srv, env.log)
		},
	}
}

func mcpCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the operator tools over MCP stdio",
		Action: func(c *cli.Context) error {
			return runMCP(env)
		},
	}
}

// caseFlags are the editable case fields shared by add and update.
func caseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "content", Usage: "Case description in Markdown (or pipe via stdin)"},
		&cli.StringFlag{Name: "diagnostics-norm", Usage: "Expected diagnostic workup"},
		&cli.StringFlag{Name: "prelim-dx", Usage: "Expected preliminary diagnosis"},
		&cli.StringFlag{Name: "meds-norm", Usage: "Expected acute treatment"},
		&cli.StringFlag{Name: "reco-norm", Usage: "Expected recommendations"},
		&cli.StringFlag{Name: "dispo-norm", Usage: "Expected disposition"},
	}
}

func addressFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "id", Usage: "Case ID"},
		&cli.StringFlag{Name: "slug", Aliases: []string{"s"}, Usage: "Case slug"},
	}
}

func caseCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "case",
		Usage: "Administer clinical cases",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create a case",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Unique case name"},
					&cli.StringFlag{Name: "slug", Aliases: []string{"s"}, Usage: "URL slug (derived from name when omitted)"},
				}, caseFlags()...),
				Action: func(c *cli.Context) error {
					content := c.String("content")
					if !c.IsSet("content") {
						text, err := optionalStdin()
						if err != nil {
							return outputError(errors.NewInternal(err))
						}
						content = text
					}
					output, err := ops.CreateCase(c.Context, env.db, ops.CreateCaseInput{
						Name: c.String("name"),
						Slug: c.String("slug"),
						CaseFields: ops.CaseFields{
							Content:         content,
							DiagnosticsNorm: c.String("diagnostics-norm"),
							PrelimDxRaw:     c.String("prelim-dx"),
							MedsNorm:        c.String("meds-norm"),
							RecoNorm:        c.String("reco-norm"),
							DispoNorm:       c.String("dispo-norm"),
						},
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "list",
				Usage: "List cases",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Max results"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Results to skip"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ListCases(c.Context, env.db, ops.ListCasesInput{
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "show",
				Usage:     "Show a case with its expected answers",
				ArgsUsage: "[slug]",
				Flags:     addressFlags(),
				Action: func(c *cli.Context) error {
					id, slug := caseAddress(c)
					output, err := ops.GetCase(c.Context, env.db, ops.GetCaseInput{ID: id, Slug: slug})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "update",
				Usage:     "Update case fields; renaming keeps the slug",
				ArgsUsage: "[slug]",
				Flags: append(append(addressFlags(),
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "New unique name"},
				), caseFlags()...),
				Action: func(c *cli.Context) error {
					id, slug := caseAddress(c)
					input := ops.UpdateCaseInput{
						ID:              id,
						Slug:            slug,
						Name:            flagPtr(c, "name"),
						Content:         flagPtr(c, "content"),
						DiagnosticsNorm: flagPtr(c, "diagnostics-norm"),
						PrelimDxRaw:     flagPtr(c, "prelim-dx"),
						MedsNorm:        flagPtr(c, "meds-norm"),
						RecoNorm:        flagPtr(c, "reco-norm"),
						DispoNorm:       flagPtr(c, "dispo-norm"),
					}
					if input.Content == nil {
						text, err := optionalStdin()
						if err != nil {
							return outputError(errors.NewInternal(err))
						}
						if text != "" {
							input.Content = &text
						}
					}
					output, err := ops.UpdateCase(c.Context, env.db, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "search",
				Usage:     "Search cases by name, slug, description and diagnosis",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Max results"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.SearchCases(c.Context, env.db, ops.SearchCasesInput{
						Query: strings.Join(c.Args().Slice(), " "),
						Limit: c.Int("limit"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a case with its instructions and attempts",
				ArgsUsage: "[slug]",
				Flags:     addressFlags(),
				Action: func(c *cli.Context) error {
					id, slug := caseAddress(c)
					output, err := ops.DeleteCase(c.Context, env.db, ops.DeleteCaseInput{ID: id, Slug: slug})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

func instructionScopeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "case-id", Usage: "Owning case ID"},
		&cli.StringFlag{Name: "case", Aliases: []string{"c"}, Usage: "Owning case slug"},
	}
}

func stageFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "stage",
		Required: required,
		Usage:    "diagnostics, first_exam, meds, reco or dispo",
	}
}

func instructionCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "instruction",
		Usage: "Administer stage instructions",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Store an instruction (reads the body from stdin); omit the case for a global one",
				Flags: append(instructionScopeFlags(),
					stageFlag(true),
					&cli.BoolFlag{Name: "inactive", Usage: "Store without activating"},
					&cli.IntFlag{Name: "version", Usage: "Explicit version (default: next in scope)"},
				),
				Action: func(c *cli.Context) error {
					body, err := requiredStdin("body")
					if err != nil {
						return outputError(err)
					}
					input := ops.StoreInstructionInput{
						CaseID:   c.String("case-id"),
						CaseSlug: c.String("case"),
						Stage:    c.String("stage"),
						Body:     body,
						Version:  c.Int("version"),
					}
					if c.Bool("inactive") {
						active := false
						input.Active = &active
					}
					output, err := ops.StoreInstruction(c.Context, env.db, env.cfg, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "list",
				Usage: "List instructions, global ones first",
				Flags: append(instructionScopeFlags(),
					stageFlag(false),
					&cli.BoolFlag{Name: "global", Usage: "Only global instructions"},
					&cli.BoolFlag{Name: "active", Usage: "Filter by active flag (--active=false for inactive)"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Max results"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Results to skip"},
				),
				Action: func(c *cli.Context) error {
					input := ops.ListInstructionsInput{
						CaseID:     c.String("case-id"),
						CaseSlug:   c.String("case"),
						GlobalOnly: c.Bool("global"),
						Stage:      c.String("stage"),
						Limit:      c.Int("limit"),
						Offset:     c.Int("offset"),
					}
					if c.IsSet("active") {
						active := c.Bool("active")
						input.Active = &active
					}
					output, err := ops.ListInstructions(c.Context, env.db, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "update",
				Usage:     "Edit an instruction in place (new body from stdin)",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "active", Usage: "Set the active flag"},
				},
				Action: func(c *cli.Context) error {
					input := ops.UpdateInstructionInput{ID: c.Args().First()}
					body, err := optionalStdin()
					if err != nil {
						return outputError(errors.NewInternal(err))
					}
					if body != "" {
						input.Body = &body
					}
					if c.IsSet("active") {
						active := c.Bool("active")
						input.Active = &active
					}
					output, err := ops.UpdateInstruction(c.Context, env.db, env.cfg, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "deactivate",
				Usage:     "Deactivate an instruction",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					output, err := ops.DeactivateInstruction(c.Context, env.db, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "resolve",
				Usage: "Show which instruction a conversation would use",
				Flags: append(instructionScopeFlags(), stageFlag(true)),
				Action: func(c *cli.Context) error {
					output, err := ops.ResolveInstruction(c.Context, env.db, ops.ResolveInstructionInput{
						CaseID:   c.String("case-id"),
						CaseSlug: c.String("case"),
						Stage:    c.String("stage"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "preview",
				Usage: "Render the instruction with sample answers (a piped body replaces the resolved one)",
				Flags: append(instructionScopeFlags(),
					stageFlag(true),
					&cli.StringSliceFlag{Name: "user-answer", Usage: "Earlier student message (repeatable)"},
					&cli.StringSliceFlag{Name: "bot-answer", Usage: "Earlier tutor reply (repeatable)"},
					&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Current student message"},
				),
				Action: func(c *cli.Context) error {
					input := ops.PreviewInstructionInput{
						CaseID:      c.String("case-id"),
						CaseSlug:    c.String("case"),
						Stage:       c.String("stage"),
						UserAnswers: c.StringSlice("user-answer"),
						BotAnswers:  c.StringSlice("bot-answer"),
						Message:     c.String("message"),
					}
					body, err := optionalStdin()
					if err != nil {
						return outputError(errors.NewInternal(err))
					}
					if body != "" {
						input.Body = &body
					}
					output, err := ops.PreviewInstruction(c.Context, env.db, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

func userCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Administer accounts",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create an account (reads the password from stdin)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true, Usage: "Account username"},
				},
				Action: func(c *cli.Context) error {
					password, err := requiredStdin("password")
					if err != nil {
						return outputError(err)
					}
					output, err := ops.Register(c.Context, env.db, ops.RegisterInput{
						Username: c.String("username"),
						Password: password,
						Confirm:  password,
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

func attemptsCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "attempts",
		Usage: "List a user's finished attempts grouped by case",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "Account username"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ListUserAttempts(c.Context, env.db, c.String("user"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

func exportCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export cases and instructions to JSONL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "Output file path (default: ~/.medcase/exports/)"},
			&cli.StringFlag{Name: "case", Aliases: []string{"c"}, Usage: "Export only this case slug"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, env.db, env.policy, ops.ExportInput{
				Path:     c.String("path"),
				CaseSlug: c.String("case"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

func importCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import cases and instructions from JSONL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Required: true, Usage: "Input file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Import mode: error|replace"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, env.db, env.policy, ops.ImportInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

func sessionCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Maintain web sessions",
		Subcommands: []*cli.Command{
			{
				Name:  "purge",
				Usage: "Delete expired sessions (sqlite backend)",
				Action: func(c *cli.Context) error {
					n, err := purgeSessions(c.Context, env)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]int{"purged": n})
				},
			},
		},
	}
}

func purgeSessions(ctx context.Context, env *appEnv) (int, error) {
	store, err := session.NewStore(env.cfg, env.db)
	if err != nil {
		return 0, err
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	sqlStore, ok := store.(*session.SQLStore)
	if !ok {
		return 0, errors.NewInvalidRequest("the redis backend expires sessions by itself")
	}
	return sqlStore.Purge(ctx)
}

// Helper functions

// caseAddress reads --id/--slug, falling back to the first positional arg as a slug.
func caseAddress(c *cli.Context) (id, slug string) {
	id, slug = c.String("id"), c.String("slug")
	if id == "" && slug == "" && c.NArg() > 0 {
		slug = c.Args().First()
	}
	return id, slug
}

// flagPtr returns a pointer to the flag value when it was given, nil otherwise.
func flagPtr(c *cli.Context, name string) *string {
	if !c.IsSet(name) {
		return nil
	}
	v := c.String(name)
	return &v
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var medErr *errors.MedcaseError
	if stderrors.As(err, &medErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", medErr.Code, medErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// optionalStdin returns piped stdin, or "" when stdin is a terminal.
func optionalStdin() (string, error) {
	if !stdinHasData() {
		return "", nil
	}
	return readStdin()
}

// requiredStdin returns piped stdin or an INVALID_REQUEST naming the field.
func requiredStdin(field string) (string, error) {
	if !stdinHasData() {
		return "", errors.NewInvalidRequest(field + " must be piped via stdin")
	}
	text, err := readStdin()
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if text == "" {
		return "", errors.NewInvalidRequest(field + " is required")
	}
	return text, nil
}

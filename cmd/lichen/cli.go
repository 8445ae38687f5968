package main

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/lichen/internal/db"
	"github.com/hpungsan/lichen/internal/errors"
	"github.com/hpungsan/lichen/internal/ops"
	"github.com/hpungsan/lichen/internal/registry"
	"github.com/hpungsan/lichen/internal/web"
)

// maxStdinBytes caps specs and arguments read from stdin.
const maxStdinBytes = 64 * 1024

// cliEnv holds what commands run against.
type cliEnv struct {
	rt     *ops.Runtime
	db     *sql.DB
	logger *slog.Logger
}

// newCLIApp creates the CLI application with all commands. env may be nil
// when only help or version output is needed.
func newCLIApp(env *cliEnv) *cli.App {
	app := &cli.App{
		Name:    "lichen",
		Usage:   "Self-extending directory query agent runtime",
		Version: Version,
		Commands: []*cli.Command{
			extendCmd(env),
			invokeCmd(env),
			toolsCmd(env),
			resetCmd(env),
			replayCmd(env),
			historyCmd(env),
			purgeCmd(env),
			exportCmd(env),
			artifactCmd(env),
			uiCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// extendCmd creates the extend command.
func extendCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "extend",
		Usage:     "Synthesize, persist and run a capability (spec as argument or on stdin)",
		ArgsUsage: "[spec]",
		Action: func(c *cli.Context) error {
			spec, err := argOrStdin(c, 0)
			if err != nil {
				return outputError(c, err)
			}
			if spec == "" {
				return outputError(c, errors.NewInvalidRequest("spec is required"))
			}

			out := env.rt.Extend(c.Context, spec)
			if err := outputJSON(c, out); err != nil {
				return err
			}
			if out.Status != db.StatusCompleted {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

// invokeCmd creates the invoke command.
func invokeCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "invoke",
		Usage:     "Call a registered tool (input as second argument or on stdin)",
		ArgsUsage: "<tool> [input]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(c, errors.NewInvalidRequest("tool name is required"))
			}
			name := c.Args().First()

			input, err := argOrStdin(c, 1)
			if err != nil {
				return outputError(c, err)
			}
			var arg *string
			if c.NArg() > 1 || input != "" {
				arg = &input
			}

			result, err := env.rt.Invoke(c.Context, name, arg)
			if err != nil {
				return outputError(c, err)
			}
			return outputJSON(c, map[string]any{"tool": name, "result": result})
		},
	}
}

// toolsCmd creates the tools command.
func toolsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "List registered tools",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "generated", Aliases: []string{"g"}, Usage: "Only generated tools"},
		},
		Action: func(c *cli.Context) error {
			type toolJSON struct {
				Name        string `json:"name"`
				Kind        string `json:"kind"`
				Description string `json:"description"`
			}
			out := make([]toolJSON, 0)
			for _, rec := range env.rt.Tools() {
				if c.Bool("generated") && rec.Kind != registry.KindGenerated {
					continue
				}
				out = append(out, toolJSON{Name: rec.Name, Kind: string(rec.Kind), Description: rec.Description})
			}
			return outputJSON(c, map[string]any{"tools": out})
		},
	}
}

// resetCmd creates the reset command.
func resetCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Restore the artifact and tool set to the baseline",
		Action: func(c *cli.Context) error {
			return outputJSON(c, env.rt.Reset(c.Context))
		},
	}
}

// replayCmd creates the replay command.
func replayCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Rebuild capabilities missing from the artifact from the extension ledger",
		Action: func(c *cli.Context) error {
			out, err := env.rt.Replay(c.Context)
			if err != nil {
				return outputError(c, err)
			}
			return outputJSON(c, out)
		},
	}
}

// historyCmd creates the history command.
func historyCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List extension attempts, or show one by id",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Filter by capability name"},
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status: completed|failed"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max results"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Pagination offset"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				rec, err := ops.FetchRecord(c.Context, env.db, c.Args().First())
				if err != nil {
					return outputError(c, err)
				}
				return outputJSON(c, rec)
			}

			out, err := ops.History(c.Context, env.db, ops.HistoryInput{
				Name:   c.String("name"),
				Status: c.String("status"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(c, err)
			}
			return outputJSON(c, out)
		},
	}
}

// purgeCmd creates the purge command.
func purgeCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Permanently delete extension records",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Usage: "Only purge records created more than N days ago (e.g., 7d)"},
			&cli.BoolFlag{Name: "failed-only", Usage: "Only purge failed attempts"},
		},
		Action: func(c *cli.Context) error {
			input := ops.PurgeInput{FailedOnly: c.Bool("failed-only")}

			if olderThan := c.String("older-than"); olderThan != "" {
				days, err := parseDuration(olderThan)
				if err != nil {
					return outputError(c, errors.NewInvalidRequest(err.Error()))
				}
				input.OlderThanDays = &days
			}

			out, err := ops.PurgeHistory(c.Context, env.db, input)
			if err != nil {
				return outputError(c, err)
			}
			return outputJSON(c, out)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Copy the capability artifact",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.lichen/exports/capabilities-<timestamp>.star)"},
		},
		Action: func(c *cli.Context) error {
			out, err := env.rt.ExportArtifact(c.Context, ops.ExportInput{Path: c.String("path")})
			if err != nil {
				return outputError(c, err)
			}
			return outputJSON(c, out)
		},
	}
}

// artifactCmd creates the artifact command.
func artifactCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "artifact",
		Usage: "Print the capability artifact",
		Action: func(c *cli.Context) error {
			text, err := env.rt.Artifact()
			if err != nil {
				return outputError(c, err)
			}
			_, err = io.WriteString(c.App.Writer, text)
			return err
		},
	}
}

// uiCmd creates the ui command.
func uiCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "ui",
		Usage: "Serve the read-only web inspector",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Value: 8385, Usage: "Port"},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(env.rt, env.db, Version, c.String("bind"), c.Int("port"), env.logger)
			if err != nil {
				return outputError(c, errors.NewInternal(err))
			}
			if err := web.Run(srv, env.logger); err != nil {
				return outputError(c, errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON writes v to the app's writer as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError writes err to the app's error writer as {"error": {...}} and
// returns an exit error with an empty message.
func outputError(c *cli.Context, err error) error {
	var lErr *errors.LichenError
	if !stderrors.As(err, &lErr) {
		lErr = errors.NewInternal(err)
	}

	errorObj := map[string]any{
		"code":    lErr.Code,
		"message": lErr.Message,
		"status":  lErr.Status,
	}
	if lErr.Details != nil {
		errorObj["details"] = lErr.Details
	}

	data, _ := json.Marshal(map[string]any{"error": errorObj})
	fmt.Fprintln(c.App.ErrWriter, string(data))
	return cli.Exit("", 1)
}

// argOrStdin returns positional argument i, or stdin when it is piped and
// the argument is absent.
func argOrStdin(c *cli.Context, i int) (string, error) {
	if c.NArg() > i {
		return c.Args().Get(i), nil
	}
	if !stdinHasData() {
		return "", nil
	}
	text, err := readStdin(maxStdinBytes)
	if err != nil {
		return "", err
	}
	return text, nil
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads stdin up to limit bytes.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}

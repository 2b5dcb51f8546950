package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/agromarket/marketgate/config"
	"github.com/agromarket/marketgate/internal/adapters/authroles"
	"github.com/agromarket/marketgate/internal/adapters/devauth"
	redisadapter "github.com/agromarket/marketgate/internal/adapters/redis"
	"github.com/agromarket/marketgate/internal/bootstrap"
	"github.com/agromarket/marketgate/internal/domain/access"
	"github.com/agromarket/marketgate/internal/token"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer
}

var errRedisNotConfigured = errors.New("redis not configured")

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("failed to print usage", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI usage errors exit with status 2
	}

	cmdName := os.Args[1]
	if cmdName == "-h" || cmdName == "--help" || cmdName == "help" {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("failed to print usage", "error", err)
		}
		return
	}

	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command: %s\n\n", cmdName); err != nil {
			logger.Error("failed to write error", "error", err)
		}
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("failed to print usage", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI usage errors exit with status 2
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must exit when configuration cannot be loaded
	}
	bootstrap.SetLogLevel(cfg.LogLevel)

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Out:    os.Stdout,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"decode-token": {
			name:        "decode-token",
			description: "Print the claims and role carried by an access token",
			run:         runDecodeToken,
		},
		"classify": {
			name:        "classify",
			description: "Print the route category of one or more paths",
			run:         runClassify,
		},
		"decide": {
			name:        "decide",
			description: "Evaluate the access rules for a path and session",
			run:         runDecide,
		},
		"mint-dev-token": {
			name:        "mint-dev-token",
			description: "Issue a development token set for a role",
			run:         runMintDevToken,
		},
		"clear-role-cache": {
			name:        "clear-role-cache",
			description: "Delete cached role entries from Redis",
			run:         runClearRoleCache,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: marketgate-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(w, "  %-24s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func runDecodeToken(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("decode-token", flag.ContinueOnError)
	raw := fs.String("token", "", "access token to decode (defaults to the first argument)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	value := strings.TrimSpace(*raw)
	if value == "" && fs.NArg() > 0 {
		value = strings.TrimSpace(fs.Arg(0))
	}
	if value == "" {
		return errors.New("a token is required")
	}

	claims, err := token.Parse(value)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	mapper, err := authroles.NewStaticRoleMapper(cmdCtx.Config.Auth.RoleAliases)
	if err != nil {
		return err
	}

	pretty, err := json.MarshalIndent(claims, "", "  ")
	if err != nil {
		return fmt.Errorf("encode claims: %w", err)
	}
	if err := writef(cmdCtx.Out, "%s\n\n", pretty); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmdCtx.Out, 0, 0, 2, ' ', 0)
	role := mapper.Map(claims.Role())
	if err := writef(tw, "Role claim:\t%s\n", claims.Role()); err != nil {
		return err
	}
	if err := writef(tw, "Role:\t%s\n", role); err != nil {
		return err
	}
	if err := writef(tw, "Home:\t%s\n", role.HomePath()); err != nil {
		return err
	}
	if exp, ok := claims.ExpiresAt(); ok {
		state := "valid"
		if claims.Expired(time.Now()) {
			state = "expired"
		}
		if err := writef(tw, "Expires:\t%s (%s)\n", exp.UTC().Format(time.RFC3339), state); err != nil {
			return err
		}
	} else if err := writef(tw, "Expires:\tunknown\n"); err != nil {
		return err
	}
	return tw.Flush()
}

func runClassify(cmdCtx *commandContext, args []string) error {
	if len(args) == 0 {
		return errors.New("at least one path is required")
	}
	tw := tabwriter.NewWriter(cmdCtx.Out, 0, 0, 2, ' ', 0)
	for _, p := range args {
		if err := writef(tw, "%s\t%s\n", p, access.Classify(p)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

type decideOptions struct {
	Path          string
	Role          string
	Authenticated bool
	Strict        bool
	Confine       bool
}

func parseDecideFlags(args []string) (decideOptions, error) {
	var opts decideOptions
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	fs.StringVar(&opts.Role, "role", "", "session role (raw spelling, aliases apply)")
	fs.BoolVar(&opts.Authenticated, "authenticated", false, "treat the session as signed in")
	fs.BoolVar(&opts.Strict, "strict", false, "redirect anonymous requests for protected pages")
	fs.BoolVar(&opts.Confine, "confine", false, "keep known roles inside their home area")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() != 1 {
		return opts, errors.New("exactly one path is required")
	}
	opts.Path = fs.Arg(0)
	return opts, nil
}

func runDecide(cmdCtx *commandContext, args []string) error {
	opts, err := parseDecideFlags(args)
	if err != nil {
		return err
	}
	mapper, err := authroles.NewStaticRoleMapper(cmdCtx.Config.Auth.RoleAliases)
	if err != nil {
		return err
	}

	in := access.NewInput(opts.Path, opts.Authenticated, mapper.Map(opts.Role))
	d := access.Decide(in, access.Policy{
		StrictAnonymous:    opts.Strict || cmdCtx.Config.Auth.StrictAnonymous,
		ConfineRolesToHome: opts.Confine || cmdCtx.Config.Auth.ConfineRolesToHome,
	})

	tw := tabwriter.NewWriter(cmdCtx.Out, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Path", in.Path},
		{"Category", string(in.Category)},
		{"Role", string(in.Role)},
		{"Action", string(d.Action)},
		{"Reason", string(d.Reason)},
	}
	if d.Target != "" {
		rows = append(rows, [2]string{"Target", d.Target})
	}
	for _, row := range rows {
		if err := writef(tw, "%s:\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runMintDevToken(cmdCtx *commandContext, args []string) error {
	dev := cmdCtx.Config.Auth.DevAuth
	fs := flag.NewFlagSet("mint-dev-token", flag.ContinueOnError)
	roleFlag := fs.String("role", dev.Role, "role to embed in the token (aliases apply)")
	ttl := fs.Duration("ttl", dev.SessionDuration, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	mapper, err := authroles.NewStaticRoleMapper(cmdCtx.Config.Auth.RoleAliases)
	if err != nil {
		return err
	}
	role := mapper.Map(*roleFlag)
	if !role.Known() {
		return fmt.Errorf("unknown role %q", *roleFlag)
	}

	userID := dev.UserID
	if userID == "" {
		userID = "dev-user"
	}
	issuer, err := devauth.NewIssuer(devauth.Config{
		UserID:          userID,
		Email:           dev.Email,
		Role:            string(role),
		SigningKey:      []byte(dev.SigningKey),
		SessionDuration: *ttl,
	})
	if err != nil {
		return err
	}
	tokens, err := issuer.Mint(role, *ttl)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmdCtx.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(tokens)
}

func runClearRoleCache(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("clear-role-cache", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "skip the confirmation requirement")
	prefix := fs.String("prefix", cmdCtx.Config.RoleCache.Prefix, "key prefix to purge")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return errors.New("refusing to purge the role cache without --yes")
	}
	if strings.TrimSpace(*prefix) == "" {
		return errors.New("--prefix must not be empty")
	}
	if !cmdCtx.Config.Redis.Enabled() {
		return errRedisNotConfigured
	}

	client, err := bootstrap.ConnectRedis(cmdCtx.Ctx, bootstrap.RedisConnectConfig{
		Redis:  cmdCtx.Config.Redis,
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.ErrorContext(cmdCtx.Ctx, "close redis failed", "error", cerr)
		}
	}()

	cache := redisadapter.NewRoleCacheWithPrefix(client, *prefix, cmdCtx.Config.RoleCache.MaxTTL)
	deleted, err := cache.Purge(cmdCtx.Ctx)
	if err != nil {
		return err
	}
	return writef(cmdCtx.Out, "Deleted %d role cache entries under %q\n", deleted, *prefix)
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

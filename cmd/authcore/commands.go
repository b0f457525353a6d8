package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jrsteele09/go-tenant-auth/auth"
	"github.com/jrsteele09/go-tenant-auth/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// serve runs the background work of an auth node: catalogue reloads and the
// expired session sweep. Request handling is embedded by the host service.
func serve(c config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	interval := fs.Duration("sweep-interval", c.GetSweepInterval(), "how often expired sessions are swept")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.catalogue.Watch(gctx, func() {
			a.resolver.InvalidateAll()
			regCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), startupTimeout)
			defer cancel()
			if err := a.registerTenants(regCtx); err != nil {
				log.Error().Err(err).Msg("register reloaded tenants")
			}
		})
	})
	g.Go(func() error {
		return sweepLoop(gctx, a, *interval)
	})

	log.Info().
		Str("redis", c.GetRedisAddr()).
		Str("catalogue", c.GetTenantCatalogue()).
		Dur("sweep_interval", *interval).
		Msg("authcore running")

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info().Msg("authcore stopped")
	return err
}

func sweepLoop(ctx context.Context, a *app, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			n, err := a.sessions.SweepExpired(ctx, now)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn().Err(err).Msg("session sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("removed", n).Msg("expired sessions swept")
			}
		}
	}
}

func enroll(c config.Config, args []string) error {
	fs := flag.NewFlagSet("enroll", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id")
	username := fs.String("username", "", "username")
	roles := fs.String("roles", "", "comma separated roles")
	totpSecret := fs.String("totp-secret", "", "base32 TOTP secret for MFA tenants")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password, err := readSecret(os.Stdin)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.service.Enroll(ctx, auth.EnrollRequest{
		TenantID:   *tenantID,
		Username:   *username,
		Password:   password,
		Roles:      splitRoles(*roles),
		TOTPSecret: *totpSecret,
	})
	if err != nil {
		return err
	}
	fmt.Println(user.ID)
	return nil
}

func login(c config.Config, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant id")
	username := fs.String("username", "", "username")
	code := fs.String("totp", "", "current TOTP code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password, err := readSecret(os.Stdin)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	pair, err := a.service.Login(ctx, auth.LoginRequest{
		TenantID: *tenantID,
		Username: *username,
		Password: password,
		TOTPCode: *code,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pair)
}

// hashPassword only needs the hasher, so it never touches the stores
func hashPassword(c config.Config, args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	password, err := readSecret(os.Stdin)
	if err != nil {
		return err
	}
	digest, err := newPasswordPool(c).Hash(context.Background(), password)
	if err != nil {
		return err
	}
	fmt.Println(digest)
	return nil
}

func verifyAudit(c config.Config, args []string) error {
	fs := flag.NewFlagSet("verify-audit", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("verify-audit takes exactly one tenant id: %w", flag.ErrHelp)
	}
	tenantID := fs.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.ledger.Verify(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("audit chain for %s broken after %d entries: %w", tenantID, n, err)
	}
	fmt.Printf("%s: %d entries verified\n", tenantID, n)
	return nil
}

func readSecret(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", errors.New("no password on stdin")
	}
	return strings.TrimRight(scanner.Text(), "\r"), nil
}

func splitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nfrund/periskope/internal/app"
	"github.com/nfrund/periskope/internal/backoff"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/spf13/cobra"
)

var (
	loginEmail   string
	loginTimeout time.Duration
)

var errStillPending = errors.New("login not confirmed yet")

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Request a magic link and wait until it is followed",
	Long: `Request a magic link for an email address and wait until the link is
opened, on this or any other device. Prints the session label on success.

Example:
  periskope-cli login --email ada@example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
			ctx, cancel := context.WithTimeout(ctx, loginTimeout)
			defer cancel()
			return runLogin(ctx, deps.Sessions, loginEmail, cmd.OutOrStdout(), newLoginRetryer())
		})
	},
}

func newLoginRetryer() backoff.Retryer {
	return backoff.NewExponentialBackoffRetryer(
		backoff.WithMaxRetries(1000),
		backoff.WithBaseDelay(500*time.Millisecond),
		backoff.WithMaxDelay(5*time.Second),
	)
}

func runLogin(ctx context.Context, sessions domain.SessionProvider, email string, out io.Writer, retryer backoff.Retryer) error {
	req, err := sessions.RequestMagicLink(ctx, email)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Magic link sent to %s. Waiting for it to be opened (expires %s)...\n",
		req.Email, req.ExpiresAt.Local().Format(time.Kitchen))

	var final *domain.LoginRequest
	err = retryer.Retry(ctx, func() error {
		current, err := sessions.LoginStatus(ctx, req.ID)
		if err != nil {
			return err
		}
		if current.Status == domain.LoginPending && !current.Expired(time.Now()) {
			return errStillPending
		}
		final = current
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("gave up waiting for %s to confirm the login", req.Email)
		}
		return err
	}

	if final.Status != domain.LoginConfirmed {
		return fmt.Errorf("the login link for %s expired", req.Email)
	}
	sess, err := sessions.WaitForConfirmation(ctx, req.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Logged in as %s\n", sess.Label)
	return nil
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "Email address to log in with")
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 15*time.Minute, "How long to wait for the link to be opened")
	_ = loginCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(loginCmd)
}

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/periskope/internal/app"
	"github.com/nfrund/periskope/internal/backoff"
	"github.com/nfrund/periskope/internal/chatsync"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/spf13/cobra"
)

var (
	chatConversation string
	chatIdentity     string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Follow a conversation live and send messages from stdin",
	Long: `Follow a conversation: its history is printed, then new messages as they
arrive. Every line typed is sent as a message.

Commands:
  /select ID    switch to another conversation
  /quit         exit

Example:
  periskope-cli chat --conversation general --as Ada`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
			retryer := backoff.NewExponentialBackoffRetryer(
				backoff.WithMaxRetries(deps.Config.GetFeedMaxRetries()),
				backoff.WithBaseDelay(deps.Config.GetFeedBaseDelay()),
			)
			return runChat(ctx, chatSession{
				store:    deps.Store,
				feed:     deps.Feed,
				identity: chatIdentity,
				retryer:  retryer,
			}, chatConversation, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		})
	},
}

// printer renders synchronizer callbacks as lines of text. It only prints
// messages it has not printed before for the current conversation.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	errOut  io.Writer
	convID  string
	printed map[string]bool
}

func (p *printer) SequenceChanged(conversationID string, messages []chatsync.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conversationID != p.convID {
		p.convID = conversationID
		p.printed = make(map[string]bool)
		if conversationID != "" {
			fmt.Fprintf(p.out, "== %s ==\n", conversationID)
		}
	}
	for _, m := range messages {
		if p.printed[m.ID] {
			continue
		}
		p.printed[m.ID] = true
		fmt.Fprintf(p.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.Sender, m.Content)
	}
}

func (p *printer) StateChanged(state chatsync.State) {
	switch state {
	case chatsync.StateReconnecting, chatsync.StateStalled:
		fmt.Fprintf(p.errOut, "* %s\n", state)
	}
}

func (p *printer) Notice(err error) {
	fmt.Fprintf(p.errOut, "! %v\n", err)
}

type chatSession struct {
	store    domain.MessageStore
	feed     domain.ChangeFeed
	identity string
	retryer  backoff.Retryer
}

func runChat(ctx context.Context, cs chatSession, conversationID string, in io.Reader, out, errOut io.Writer) error {
	if strings.TrimSpace(cs.identity) == "" {
		return errors.New("--as is required")
	}
	p := &printer{out: out, errOut: errOut}
	syncer := chatsync.New(cs.store, cs.feed, cs.identity,
		chatsync.WithListener(p),
		chatsync.WithRetryer(cs.retryer),
	)
	defer syncer.Close()

	if conversationID != "" {
		if err := syncer.Select(ctx, conversationID); err != nil && !errors.Is(err, domain.ErrFetchFailed) {
			return err
		}
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/select"):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/select"))
			if err := syncer.Select(ctx, id); err != nil && !errors.Is(err, domain.ErrFetchFailed) {
				fmt.Fprintf(errOut, "! %v\n", err)
			}
		default:
			if current, _, _ := syncer.Snapshot(); current == "" {
				fmt.Fprintln(errOut, "! select a conversation first: /select ID")
				continue
			}
			// Failures are reported through Notice.
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			_ = syncer.Send(sendCtx, line)
			cancel()
		}
	}
	return scanner.Err()
}

func init() {
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "Conversation to open")
	chatCmd.Flags().StringVar(&chatIdentity, "as", "", "Sender label for messages you send")
	_ = chatCmd.MarkFlagRequired("as")
	rootCmd.AddCommand(chatCmd)
}

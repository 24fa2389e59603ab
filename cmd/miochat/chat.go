package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mistakeknot/miochat/pkg/messenger"
	"github.com/spf13/cobra"
)

func chatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <username|id>",
		Short: "Open a live conversation; /retry resends failed messages, /quit leaves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p := &transcript{out: cmd.OutOrStdout(), printed: make(map[string]bool)}
			s, err := a.session(ctx, messenger.WithOnChange(p.update))
			if err != nil {
				return err
			}
			defer s.Close()
			p.self = s.User().ID

			peer, err := resolvePeer(ctx, s, args[0])
			if err != nil {
				return err
			}
			p.peer = peer.Username
			if err := s.Select(ctx, peer.ID); err != nil {
				return err
			}
			fmt.Fprintf(p.out, "-- chatting with %s --\n", peer.Username)
			return runChat(ctx, s, cmd.InOrStdin(), p)
		},
	}
}

func runChat(ctx context.Context, s *messenger.Session, in io.Reader, p *transcript) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if s.State() == messenger.StateSubscriptionFailed {
			p.notice("channel lost, resubscribing")
			if err := s.Resubscribe(ctx); err != nil {
				p.notice("resubscribe failed: " + err.Error())
			}
		}
		switch strings.TrimSpace(line) {
		case "/quit":
			return nil
		case "/retry":
			for _, d := range s.FailedSends() {
				p.result(s.RetrySend(ctx, d.ID))
			}
			continue
		case "":
			continue
		}
		p.result(s.Send(ctx, line))
	}
	return scanner.Err()
}

// transcript prints each message of the active conversation once, in view
// order.
type transcript struct {
	mu      sync.Mutex
	out     io.Writer
	self    string
	peer    string
	printed map[string]bool
}

func (p *transcript) update(_ string, msgs []messenger.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if p.printed[m.ID] {
			continue
		}
		p.printed[m.ID] = true
		who := p.peer
		if m.SenderID == p.self {
			who = "me"
		}
		fmt.Fprintf(p.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content)
	}
}

func (p *transcript) result(r messenger.SendResult) {
	switch r.Status {
	case messenger.SendRejected:
		p.notice("not sent: " + r.Err.Error())
	case messenger.SendFailed:
		p.notice("send failed, /retry to resend: " + r.Err.Error())
	}
}

func (p *transcript) notice(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "!! %s\n", msg)
}

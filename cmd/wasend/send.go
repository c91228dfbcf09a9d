package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"wasender/internal/compose"
	"wasender/internal/devices"
	"wasender/internal/dispatch"
	"wasender/internal/message"
)

// errReported marks a failure whose outcome lines were already printed.
var errReported = errors.New("send failed")

type sendOptions struct {
	forward  bool
	everyone bool
	reply    string
	duration int
}

func (s *sendOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&s.forward, "forward", false, "mark the message as forwarded")
	f.IntVar(&s.duration, "duration", 0, "disappearing message duration in seconds")
}

func (s *sendOptions) apply(f *message.Fields) {
	f.IsForwarded = s.forward
	f.MentionEveryone = s.everyone
	f.ReplyMessageID = s.reply
	f.DurationSeconds = s.duration
}

func newSendCmd(root *rootOptions) *cobra.Command {
	so := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send <user|group|newsletter> <recipient> <text...>",
		Short: "Send a message to a user, group or newsletter",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := message.ParseRecipientType(args[0])
			if err != nil {
				return err
			}
			if typ == message.Status {
				return fmt.Errorf("use %q for status updates", "wasend status")
			}
			form := compose.NewForm()
			form.Update(func(f *message.Fields) {
				f.Type = typ
				f.Recipient = args[1]
				f.Text = strings.Join(args[2:], " ")
				so.apply(f)
			})
			return submit(cmd.Context(), root, form, cmd.OutOrStdout())
		},
	}
	so.bind(cmd)
	cmd.Flags().BoolVar(&so.everyone, "everyone", false, "mention every group member (groups only)")
	cmd.Flags().StringVar(&so.reply, "reply", "", "message ID to reply to")
	return cmd
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	so := &sendOptions{}
	var (
		all bool
		ids []string
	)
	cmd := &cobra.Command{
		Use:   "status <text...>",
		Short: "Post a status update, optionally through several devices",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && len(ids) > 0 {
				return fmt.Errorf("--all and --devices are mutually exclusive")
			}
			form := compose.NewForm()
			form.Update(func(f *message.Fields) {
				f.Type = message.Status
				f.Text = strings.Join(args, " ")
				so.apply(f)
			})
			switch {
			case all:
				form.Select(devices.SelectAll())
			case len(ids) > 0:
				form.Select(devices.SelectIDs(ids...))
			}
			return submit(cmd.Context(), root, form, cmd.OutOrStdout())
		},
	}
	so.bind(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "broadcast through every device")
	cmd.Flags().StringSliceVar(&ids, "devices", nil, "broadcast through these device IDs")
	return cmd
}

func submit(ctx context.Context, root *rootOptions, form *compose.Form, w io.Writer) error {
	gw, err := root.client()
	if err != nil {
		return err
	}
	log := root.logger()
	engine := dispatch.New(gw, dispatch.WithLogger(log))
	svc := compose.NewService(engine, devices.NewRegistry(gw),
		compose.WithSource("cli"),
		compose.WithLogger(log),
	)
	sink := &lineSink{w: w}
	res, err := svc.Submit(ctx, form, compose.Actor{}, sink)
	if err != nil {
		var verr *message.ValidationError
		if errors.As(err, &verr) {
			return err
		}
		return errReported
	}
	if res.Mode == dispatch.ModeBroadcast {
		renderOutcomes(w, res)
	}
	if res.FailureCount > 0 {
		return errReported
	}
	return nil
}

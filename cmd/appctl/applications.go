package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/models"
	"application-tracker/internal/timeline"
)

func newLookupCmd(withApp appRunner) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "lookup <reference-code>",
		Short: "Show the status of the application behind a reference code",
		Long:  "Resolves a reference code and prints the status view. Unlike the public API an expired code is reported as expired rather than not found.",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			code := strings.ToUpper(strings.TrimSpace(args[0]))
			if all {
				records, err := a.codes.ResolveAll(cmd.Context(), code)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), records)
			}
			rec, err := a.backoffice.Lookup(cmd.Context(), code)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.engine.BuildStatusView(rec))
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "print every linked record instead of the status view")
	return cmd
}

func newStatusCmd(withApp appRunner) *cobra.Command {
	var (
		upd          timeline.StatusUpdate
		disbursement string
	)

	cmd := &cobra.Command{
		Use:   "status <session-id> --status <status>",
		Short: "Set the review status of an application",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if disbursement != "" {
				t, err := time.Parse("2006-01-02", disbursement)
				if err != nil {
					return apperrors.NewInvalidInputError("disbursement date must be YYYY-MM-DD")
				}
				upd.DisbursementDate = &t
			}
			res, err := a.backoffice.UpdateStatus(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Changed {
				fmt.Fprintf(out, "%s already %s\n", args[0], res.Record.Metadata.Status)
				return nil
			}
			fmt.Fprintf(out, "%s -> %s\n", args[0], res.Record.Metadata.Status)
			for _, id := range res.Mirrored {
				fmt.Fprintf(out, "  mirrored to %s\n", id)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&upd.Status, "status", "", "new status (submitted, under_review, approved, rejected, disbursed)")
	cmd.Flags().StringVar(&upd.Note, "note", "", "note stored with the status history entry")
	cmd.Flags().StringVar(&upd.UpdatedBy, "by", "appctl", "who made the change")
	cmd.Flags().Float64Var(&upd.ApprovedAmount, "amount", 0, "approved amount (approvals only)")
	cmd.Flags().StringVar(&disbursement, "disbursement-date", "", "planned disbursement date, YYYY-MM-DD (approvals only)")
	cmd.Flags().StringVar(&upd.RejectionReason, "reason", "", "rejection reason (rejections only)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newMilestoneCmd(withApp appRunner) *cobra.Command {
	var details []string

	cmd := &cobra.Command{
		Use:   "milestone <session-id> <milestone>",
		Short: "Record a milestone and notify the applicant",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			doc, err := parseDetails(details)
			if err != nil {
				return err
			}
			rec, err := a.backoffice.RecordMilestone(cmd.Context(), args[0], args[1], doc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s (%s) on %s (%d unread notifications)\n",
				args[1], timeline.MilestoneTitle(args[1]), rec.SessionID, timeline.UnreadCount(rec))
			fmt.Fprintf(cmd.OutOrStdout(), "milestones: %s\n", strings.Join(rec.Metadata.FlagKeys(), ", "))
			return nil
		}),
	}
	cmd.Flags().StringArrayVarP(&details, "detail", "d", nil, "milestone detail as key=value, repeatable")
	return cmd
}

func parseDetails(pairs []string) (models.Document, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	doc := models.Document{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("detail %q is not key=value", p))
		}
		doc[strings.TrimSpace(k)] = v
	}
	return doc, nil
}

func newExtendCmd(withApp appRunner) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "extend <reference-code>",
		Short: "Push a reference code's expiry forward",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			code := strings.ToUpper(strings.TrimSpace(args[0]))
			expiresAt, err := a.codes.Extend(cmd.Context(), code, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now expires %s\n", code, expiresAt.Format(time.RFC3339))
			return nil
		}),
	}
	cmd.Flags().IntVar(&days, "days", 30, "days from now until the code expires")
	return cmd
}

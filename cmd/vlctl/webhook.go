package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apiclient "github.com/jrmce/VersionLifecycle-sub000/pkg/api/client"
)

func (c *cli) webhookCmd() *cobra.Command {
	webhook := &cobra.Command{
		Use:   "webhook",
		Short: "Manage webhook subscriptions and deliveries",
	}
	webhook.AddCommand(
		c.webhookRegisterCmd(),
		c.webhookDeactivateCmd(),
		c.webhookDeliveriesCmd(),
		c.webhookRedeliverCmd(),
	)
	return webhook
}

func (c *cli) webhookRegisterCmd() *cobra.Command {
	var (
		input      apiclient.RegisterWebhookInput
		maxRetries int
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Subscribe a URL to an application's deployment events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input.ApplicationID <= 0 || input.URL == "" {
				return errors.New("--app and --url are required")
			}
			if cmd.Flags().Changed("max-retries") {
				input.MaxRetries = &maxRetries
			}
			if input.Secret == "" {
				secret, err := c.readSecret("Signing secret: ")
				if err != nil {
					return fmt.Errorf("read secret: %w", err)
				}
				input.Secret = secret
			}
			client, token, err := c.client(true)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			hook, err := client.RegisterWebhook(ctx, token, input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), hook)
		},
	}
	cmd.Flags().Int64Var(&input.ApplicationID, "app", 0, "application id")
	cmd.Flags().StringVar(&input.URL, "url", "", "delivery URL")
	cmd.Flags().StringVar(&input.Secret, "secret", "", "HMAC signing secret (prompted when omitted)")
	cmd.Flags().StringVar(&input.Events, "events", "*", "comma-separated event types or *")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "delivery attempts per event (server default when omitted)")
	return cmd
}

func (c *cli) webhookDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <webhook-id>",
		Short: "Stop deliveries to a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			webhookID, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, token, err := c.client(true)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			if err := client.DeactivateWebhook(ctx, token, webhookID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook deactivated")
			return nil
		},
	}
}

func (c *cli) webhookDeliveriesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "deliveries <webhook-id>",
		Short: "List a webhook's recent deliveries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			webhookID, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, token, err := c.client(true)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			deliveries, err := client.ListDeliveries(ctx, token, webhookID, limit)
			if err != nil {
				return err
			}
			for _, d := range deliveries {
				code := "-"
				if d.ResponseStatusCode != nil {
					code = strconv.Itoa(*d.ResponseStatusCode)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\tcode=%s\tretries=%d\t%s\n",
					d.ID, d.EventType, d.DeliveryStatus, code, d.RetryCount, d.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of deliveries")
	return cmd
}

func (c *cli) webhookRedeliverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redeliver <delivery-id>",
		Short: "Attempt an unsent delivery immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deliveryID, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, token, err := c.client(true)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			delivery, err := client.Redeliver(ctx, token, deliveryID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), delivery)
		},
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	apiclient "github.com/jrmce/VersionLifecycle-sub000/pkg/api/client"
)

func (c *cli) deployCmd() *cobra.Command {
	deploy := &cobra.Command{
		Use:   "deploy",
		Short: "Create and drive deployments",
	}
	deploy.AddCommand(
		c.deployCreateCmd(),
		c.deployListCmd(),
		c.deployGetCmd(),
		c.deployConfirmCmd(),
		c.deployStatusCmd(),
		c.deployPromoteCmd(),
		c.deployHistoryCmd(),
		c.deployDeleteCmd(),
	)
	return deploy
}

func (c *cli) deployCreateCmd() *cobra.Command {
	var input apiclient.CreateDeploymentInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Queue a Pending deployment of a version to an environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input.ApplicationID <= 0 || input.VersionID <= 0 || input.EnvironmentID <= 0 {
				return errors.New("--app, --version and --env are required")
			}
			client, token, err := c.client(true)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			deployment, err := client.CreateDeployment(ctx, token, input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), deployment)
		},
	}
	cmd.Flags().Int64Var(&input.ApplicationID, "app", 0, "application id")
	cmd.Flags().Int64Var(&input.VersionID, "version", 0, "version id")
	cmd.Flags().Int64Var(&input.EnvironmentID, "env", 0, "environment id")
	cmd.Flags().StringVar(&input.Notes, "notes", "", "free-form notes")
	return cmd
}

func (c *cli) deployListCmd() *cobra.Command {
	var input apiclient.ListDeploymentsInput
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, token, err := c.client(true)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			deployments, err := client.ListDeployments(ctx, token, input)
			if err != nil {
				return err
			}
			for _, dep := range deployments {
				printDeploymentRow(cmd.OutOrStdout(), dep)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&input.ApplicationID, "app", 0, "filter by application id")
	cmd.Flags().Int64Var(&input.EnvironmentID, "env", 0, "filter by environment id")
	cmd.Flags().IntVar(&input.Limit, "limit", 20, "maximum number of deployments")
	return cmd
}

func (c *cli) deployGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <deployment-id>",
		Short: "Show one deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := c.client(true)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			deployment, err := client.GetDeployment(ctx, token, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), deployment)
		},
	}
}

func (c *cli) deployConfirmCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "confirm <deployment-id>",
		Short: "Move a Pending deployment to InProgress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := c.client(true)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			deployment, err := client.ConfirmDeployment(ctx, token, args[0], changedString(cmd, "notes", notes))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), deployment)
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "replace the deployment notes")
	return cmd
}

func (c *cli) deployStatusCmd() *cobra.Command {
	var (
		status   string
		notes    string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status <deployment-id>",
		Short: "Apply a status transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return errors.New("--status is required")
			}
			input := apiclient.UpdateStatusInput{
				Status: status,
				Notes:  changedString(cmd, "notes", notes),
			}
			if cmd.Flags().Changed("duration") {
				ms := duration.Milliseconds()
				input.DurationMs = &ms
			}
			client, token, err := c.client(true)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			deployment, err := client.UpdateDeploymentStatus(ctx, token, args[0], input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), deployment)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status (InProgress|Success|Failed|Cancelled)")
	cmd.Flags().StringVar(&notes, "notes", "", "replace the deployment notes")
	cmd.Flags().DurationVar(&duration, "duration", 0, "explicit deployment duration")
	return cmd
}

func (c *cli) deployPromoteCmd() *cobra.Command {
	var (
		target int64
		notes  string
	)
	cmd := &cobra.Command{
		Use:   "promote <deployment-id>",
		Short: "Deploy a successful version to the next environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if target <= 0 {
				return errors.New("--target-env is required")
			}
			client, token, err := c.client(true)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			deployment, err := client.PromoteDeployment(ctx, token, args[0], target, notes)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), deployment)
		},
	}
	cmd.Flags().Int64Var(&target, "target-env", 0, "environment id to promote into")
	cmd.Flags().StringVar(&notes, "notes", "", "notes for the new deployment")
	return cmd
}

func (c *cli) deployHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <deployment-id>",
		Short: "Print a deployment's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := c.client(true)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			events, err := client.DeploymentHistory(ctx, token, args[0])
			if err != nil {
				return err
			}
			for _, event := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", event.CreatedAt.Format(time.RFC3339), event.EventType, event.Message)
			}
			return nil
		},
	}
}

func (c *cli) deployDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <deployment-id>",
		Short: "Soft-delete a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, token, err := c.client(true)
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd)
			defer cancel()
			if err := client.DeleteDeployment(ctx, token, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deployment deleted")
			return nil
		},
	}
}

func printDeploymentRow(w io.Writer, dep apiclient.Deployment) {
	fmt.Fprintf(w, "%s\t%s\tapp=%d\tversion=%d\tenv=%d\t%s\n",
		dep.ID, dep.Status, dep.ApplicationID, dep.VersionID, dep.EnvironmentID, dep.ModifiedAt.Format(time.RFC3339))
}

// changedString returns a pointer to value only when the flag was given, so
// an omitted flag leaves the stored field untouched.
func changedString(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/arencloud/depot/internal/deploy"
	"github.com/arencloud/depot/internal/stream"
	"github.com/arencloud/depot/internal/teardown"

	"github.com/spf13/cobra"
)

func newSyncAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-all",
		Short: "Reconcile every resource with the provider and print the results as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			results, err := a.reconciler.SyncAll(cmd.Context(), nil)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
}

func newDeployCommand() *cobra.Command {
	var req deploy.Request
	var action string
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run a provisioning action and stream its events as NDJSON",
		Example: `  depot deploy --resource 6f1c...
  depot deploy --action synthesize --bucket media-1700000000000 --region eu-west-1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			req.Action = deploy.Action(action)
			res, err := a.runner.Run(cmd.Context(), req, stream.NewNDJSON(os.Stdout))
			if err != nil {
				return err
			}
			if !res.Success {
				return errors.New("provisioning failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", string(deploy.ActionDeploy), "synthesize or deploy")
	cmd.Flags().StringVar(&req.ResourceID, "resource", "", "resource id")
	cmd.Flags().StringVar(&req.ObjectStoreName, "bucket", "", "object store name, when no resource is given")
	cmd.Flags().StringVar(&req.Region, "region", "", "provider region")
	return cmd
}

func newTeardownCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "teardown <resource-id>",
		Short: "Delete a resource and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			out := stream.NewNDJSON(os.Stdout)
			return a.teardown.Run(cmd.Context(), args[0], func(e teardown.StepEvent) { _ = out.Send(e) })
		},
	}
}

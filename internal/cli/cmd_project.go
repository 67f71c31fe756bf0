package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orcd/internal/model"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage registered projects",
	}
	cmd.AddCommand(newProjectCreateCmd(), newProjectListCmd())
	return cmd
}

func newProjectCreateCmd() *cobra.Command {
	var remoteURL, baseBranch string
	var autoMerge, autoPush bool

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openStore()
			if err != nil {
				return err
			}

			source := model.SourceNewEmpty
			if remoteURL != "" {
				source = model.SourceRemoteGit
			}

			p, err := reg.CreateProject(args[0], source, remoteURL, baseBranch, autoMerge, autoPush)
			if err != nil {
				return err
			}
			fmt.Printf("created project %s (%s), status=%s\n", p.ID, p.Name, p.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&remoteURL, "remote", "", "remote git URL to clone (omit for a new empty repo)")
	cmd.Flags().StringVar(&baseBranch, "base-branch", "main", "base branch tasks are created from and merged into")
	cmd.Flags().BoolVar(&autoMerge, "auto-merge", true, "automatically merge completed tasks into the base branch")
	cmd.Flags().BoolVar(&autoPush, "auto-push", false, "push the base branch after an automatic merge")
	return cmd
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openStore()
			if err != nil {
				return err
			}
			projects, err := reg.ListProjects()
			if err != nil {
				return err
			}
			for _, p := range projects {
				fmt.Printf("%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Status, p.BaseBranch)
			}
			return nil
		},
	}
}

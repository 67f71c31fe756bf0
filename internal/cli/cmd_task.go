package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks within a project",
	}
	cmd.AddCommand(
		newTaskNewCmd(),
		newTaskListCmd(),
		newTaskApprovePlanCmd(),
		newTaskRejectPlanCmd(),
		newTaskCancelCmd(),
		newTaskRetryCmd(),
	)
	return cmd
}

func newTaskNewCmd() *cobra.Command {
	var priority int
	var dependsOn string
	var planMode bool

	cmd := &cobra.Command{
		Use:   "new <project-id> <description>",
		Short: "Create a new task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openStore()
			if err != nil {
				return err
			}
			t, err := reg.CreateTask(args[0], args[1], priority, dependsOn, planMode)
			if err != nil {
				return err
			}
			fmt.Printf("created task %s (%s), status=%s\n", t.ID, t.Title, t.Status)
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "claim priority, higher claims first")
	cmd.Flags().StringVar(&dependsOn, "depends-on", "", "task id this task depends on")
	cmd.Flags().BoolVar(&planMode, "plan", false, "require plan approval before the task is claimable")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List tasks in a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openStore()
			if err != nil {
				return err
			}
			tasks, err := reg.ListTasks(args[0])
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Printf("%s\t%s\t%s\t%s\n", t.ID, t.Status, t.WorkerID, t.Title)
			}
			return nil
		},
	}
}

func newTaskApprovePlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve-plan <project-id> <task-id>",
		Short: "Approve a task's plan, making it claimable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openStore()
			if err != nil {
				return err
			}
			return reg.ApprovePlan(args[0], args[1])
		},
	}
}

func newTaskRejectPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject-plan <project-id> <task-id>",
		Short: "Reject a task's plan, returning it to pending",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openStore()
			if err != nil {
				return err
			}
			return reg.RejectPlan(args[0], args[1])
		},
	}
}

func newTaskCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <project-id> <task-id>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openStore()
			if err != nil {
				return err
			}
			previous, wasInFlight, _, err := reg.Cancel(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("cancelled task %s (was %s, in_flight=%v)\n", args[1], previous, wasInFlight)
			if wasInFlight {
				fmt.Println("task was running in the daemon; its worker will observe the cancellation and stop the container shortly")
			}
			return nil
		},
	}
}

func newTaskRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <project-id> <task-id>",
		Short: "Retry a failed or cancelled task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openStore()
			if err != nil {
				return err
			}
			return reg.Retry(args[0], args[1])
		},
	}
}

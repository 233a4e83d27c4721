package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewProcessCmd создаёт группу команд для управления процессами.
func NewProcessCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Manage workflow processes",
	}

	cmd.AddCommand(
		newProcessListCmd(clientFn, outputFn),
		newProcessStartCmd(clientFn, outputFn),
		newProcessShowCmd(clientFn, outputFn),
		newProcessStepsCmd(clientFn, outputFn),
		newProcessResumeCmd(clientFn, outputFn),
		newProcessRetryCmd(clientFn, outputFn),
		newProcessAbortCmd(clientFn, outputFn),
	)

	return cmd
}

// NewWorkflowCmd создаёт группу команд каталога workflow'ов.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Browse the workflow catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			workflows, err := client.ListWorkflows()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "INTENT", "STEPS"}
			rows := make([][]string, len(workflows))
			for i, wf := range workflows {
				rows[i] = []string{wf.Name, wf.Intent, strconv.Itoa(wf.StepCount)}
			}

			out.Print(headers, rows, workflows)
			return nil
		},
	})

	return cmd
}

func newProcessListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var subjectID string
	var workflow string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			processes, err := client.ListProcesses(ListProcessesOpts{
				SubjectID: subjectID,
				Workflow:  workflow,
				Status:    status,
				Limit:     limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "WORKFLOW", "STATUS", "STEP", "CREATED"}
			rows := make([][]string, len(processes))
			for i, p := range processes {
				rows[i] = []string{p.ID, p.Workflow, p.Status, strconv.Itoa(p.StepIndex), p.CreatedAt}
			}

			out.Print(headers, rows, processes)
			return nil
		},
	}

	cmd.Flags().StringVar(&subjectID, "subject-id", "", "Filter by subject ID")
	cmd.Flags().StringVar(&workflow, "workflow", "", "Filter by workflow name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (CREATED, RUNNING, SUSPENDED, WAITING_ON_CALLBACK, FAILED, COMPLETED, ABORTED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newProcessStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var subjectID string
	var inputs []string

	cmd := &cobra.Command{
		Use:   "start WORKFLOW",
		Short: "Start a new process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := StartProcessRequest{
				SubjectID: subjectID,
			}

			input, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			req.Input = input

			p, err := client.StartProcess(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Process started: %s", p.ID))
			out.Print(
				[]string{"ID", "WORKFLOW", "STATUS", "STEP", "CREATED"},
				[][]string{{p.ID, p.Workflow, p.Status, strconv.Itoa(p.StepIndex), p.CreatedAt}},
				p,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&subjectID, "subject-id", "", "Subject the workflow operates on")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")

	return cmd
}

func newProcessShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show process details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			p, err := client.GetProcess(args[0])
			if err != nil {
				return err
			}

			failure := ""
			if p.Failure != nil {
				failure = p.Failure.Message
			}

			out.Print(
				[]string{"ID", "WORKFLOW", "STATUS", "STEP", "FAILURE", "CREATED"},
				[][]string{{p.ID, p.Workflow, p.Status, strconv.Itoa(p.StepIndex), failure, p.CreatedAt}},
				p,
			)
			return nil
		},
	}
}

func newProcessStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "steps ID",
		Short: "Show the step journal of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			entries, err := client.ListProcessSteps(args[0])
			if err != nil {
				return err
			}

			headers := []string{"INDEX", "STEP", "OUTCOME", "STARTED", "FINISHED"}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{strconv.Itoa(e.StepIndex), e.StepName, e.Outcome, e.StartedAt, e.FinishedAt}
			}

			out.Print(headers, rows, entries)
			return nil
		},
	}
}

func newProcessResumeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string

	cmd := &cobra.Command{
		Use:   "resume ID",
		Short: "Provide operator input to a suspended process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			input, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			p, err := client.ResumeProcess(args[0], ResumeRequest{Input: input})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Process resumed: %s", p.ID))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")

	return cmd
}

func newProcessRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "retry ID",
		Short: "Retry the failed step of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			p, err := client.RetryProcess(args[0], force)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Process retrying: %s", p.ID))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Retry even a fatal failure")

	return cmd
}

func newProcessAbortCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "abort ID",
		Short: "Abort a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			p, err := client.AbortProcess(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Process aborted: %s", p.ID))
			return nil
		},
	}
}

// parseInputs конвертирует флаги KEY=VALUE в map.
func parseInputs(inputs []string) (map[string]any, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	result := make(map[string]any, len(inputs))
	for _, kv := range inputs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		result[parts[0]] = coerceValue(parts[1])
	}
	return result, nil
}

// coerceValue пытается распознать число или bool в строковом значении.
func coerceValue(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

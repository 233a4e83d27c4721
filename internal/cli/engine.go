package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewEngineCmd создаёт группу команд управления движком.
func NewEngineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Control the execution engine",
	}

	cmd.AddCommand(
		newEngineStatusCmd(clientFn, outputFn),
		newEnginePauseCmd(clientFn, outputFn),
		newEngineResumeCmd(clientFn, outputFn),
	)

	return cmd
}

func newEngineStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the engine state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			e, err := client.GetEngine()
			if err != nil {
				return err
			}

			out.Print([]string{"STATE"}, [][]string{{e.State}}, e)
			return nil
		},
	}
}

func newEnginePauseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the engine (in-flight steps finish, then drain)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			e, err := client.PauseEngine()
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Engine state: %s", e.State))
			return nil
		},
	}
}

func newEngineResumeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			e, err := client.ResumeEngine()
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Engine state: %s", e.State))
			return nil
		},
	}
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSubjectCmd создаёт группу команд управления subject'ами.
func NewSubjectCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subject",
		Short: "Manage subjects",
	}

	cmd.AddCommand(
		newSubjectListCmd(clientFn, outputFn),
		newSubjectCreateCmd(clientFn, outputFn),
		newSubjectShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newSubjectListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subjects",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			subjects, err := client.ListSubjects(limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "STATE", "INSYNC", "CREATED"}
			rows := make([][]string, len(subjects))
			for i, s := range subjects {
				rows[i] = []string{s.ID, s.Name, s.State, fmt.Sprintf("%t", s.InSync), s.CreatedAt}
			}

			out.Print(headers, rows, subjects)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newSubjectCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var configs []string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			config, err := parseInputs(configs)
			if err != nil {
				return err
			}

			s, err := client.CreateSubject(CreateSubjectRequest{
				Name:   args[0],
				Config: config,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Subject created: %s", s.ID))
			out.Print(
				[]string{"ID", "NAME", "STATE", "INSYNC"},
				[][]string{{s.ID, s.Name, s.State, fmt.Sprintf("%t", s.InSync)}},
				s,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&configs, "config", nil, "Config values as KEY=VALUE (repeatable)")

	return cmd
}

func newSubjectShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show subject details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			s, err := client.GetSubject(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "NAME", "STATE", "INSYNC", "CREATED", "UPDATED"},
				[][]string{{s.ID, s.Name, s.State, fmt.Sprintf("%t", s.InSync), s.CreatedAt, s.UpdatedAt}},
				s,
			)
			return nil
		},
	}
}

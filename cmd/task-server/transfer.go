package main

import (
	"errors"
	"fmt"
	"os"

	"task-tracker/internal/tasks"

	"github.com/spf13/cobra"
)

var (
	transferUser string
	exportOut    string
)

// exportCmd выгружает задачи пользователя в файл или stdout.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a user's tasks as JSON",
	Long: `Export writes the user's collection in the same {"tasks": [...]} shape
the server stores and the import command accepts.

Examples:
  task-server export --user alice > alice.json
  task-server export --user alice --out alice.json`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

// importCmd сливает файл с задачами пользователя.
var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import tasks for a user from a JSON file",
	Long: `Import merges a {"tasks": [...]} document or a bare JSON array into the
user's collection. Tasks whose id already exists are replaced, others are
added. A single invalid task rejects the whole file.

Example:
  task-server import --user alice alice.json`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	for _, c := range []*cobra.Command{exportCmd, importCmd} {
		c.Flags().StringVar(&transferUser, "user", "", "user id whose collection to use")
		_ = c.MarkFlagRequired("user")
	}
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default stdout)")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	svc, err := openService(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	data, err := svc.ExportTasks(cmd.Context(), transferUser)
	if err != nil {
		return fmt.Errorf("export tasks: %w", err)
	}
	if exportOut == "" {
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(exportOut, data, 0o644)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}
	batch, err := tasks.ParseImportPayload(data)
	if err != nil {
		return fmt.Errorf("parse import file: %w", err)
	}

	svc, err := openService(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.ImportTasks(cmd.Context(), transferUser, batch)
	if err != nil {
		var invalid *tasks.InvalidTasksError
		if errors.As(err, &invalid) {
			for _, it := range invalid.Items {
				fmt.Fprintf(cmd.ErrOrStderr(), "task #%d: %s\n", it.Index, it.Errors.Error())
			}
		}
		return fmt.Errorf("import tasks: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Successfully imported %d tasks (added %d, replaced %d)\n",
		res.Imported, res.Added, res.Replaced)
	return nil
}

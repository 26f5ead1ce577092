package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/phasecraft/phaseflow/internal/log"
	internal_storage "github.com/phasecraft/phaseflow/internal/storage"
	"github.com/phasecraft/phaseflow/pkg/engine"
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/spf13/cobra"
)

// SetupCLI registers the admin subcommands: thin, DB-backed operations.
// Run execution itself lives in the server process.
func SetupCLI(rootCmd *cobra.Command) {
	templateCmd := &cobra.Command{Use: "template", Short: "Manage workflow templates"}

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a template file without registering it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			t, err := engine.LoadTemplateFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if err := engine.ValidateTemplate(t); err != nil {
				fmt.Fprintf(os.Stderr, "Template is invalid: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Template '%s' (%s) is valid: %d phases\n", t.Name, t.ID, len(t.Phases))
		},
	}

	registerCmd := &cobra.Command{
		Use:   "register [file]",
		Short: "Validate and register a template",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			t, err := engine.LoadTemplateFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if t.CreatedAt.IsZero() {
				t.CreatedAt = time.Now()
			}
			registry := engine.NewRegistry(store, log.GetLogger())
			if err := registry.Register(t); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Registered template '%s' (%s)\n", t.Name, t.ID)
		},
	}
	templateCmd.AddCommand(validateCmd, registerCmd)

	projectCmd := &cobra.Command{Use: "project", Short: "Manage projects"}

	createProjectCmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new project",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			now := time.Now()
			p := models.Project{
				ID:        uuid.NewString(),
				Name:      args[0],
				Status:    models.IdleProjectStatus,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := store.SaveProject(p); err != nil {
				log.GetLogger().Errorf("Failed to create project: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to create project: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Created project '%s' with ID %s\n", p.Name, p.ID)
		},
	}
	projectCmd.AddCommand(createProjectCmd)

	runCmd := &cobra.Command{Use: "run", Short: "Inspect pipeline runs"}

	listRunsCmd := &cobra.Command{
		Use:   "list",
		Short: "List pipeline runs",
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			projectID, _ := cmd.Flags().GetString("project")
			runs, err := store.ListRuns(projectID)
			if err != nil {
				log.GetLogger().Errorf("Failed to list runs: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list runs: %v\n", err)
				os.Exit(1)
			}
			if len(runs) == 0 {
				fmt.Fprintf(os.Stdout, "No runs found.\n")
				return
			}
			for _, r := range runs {
				fmt.Fprintf(os.Stdout, "- ID: %s, Project: %s, Status: %s, Current phase: %s, Created: %s\n",
					r.ID, r.ProjectID, r.Status, r.CurrentPhase, r.CreatedAt.Format(time.RFC3339))
			}
		},
	}
	listRunsCmd.Flags().String("project", "", "Filter by project ID")
	runCmd.AddCommand(listRunsCmd)

	checkpointCmd := &cobra.Command{Use: "checkpoint", Short: "Inspect run checkpoints"}

	listCheckpointsCmd := &cobra.Command{
		Use:   "list [run-id]",
		Short: "List a run's checkpoints",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			checkpoints, err := store.ListCheckpoints(args[0])
			if err != nil {
				log.GetLogger().Errorf("Failed to list checkpoints: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list checkpoints: %v\n", err)
				os.Exit(1)
			}
			if len(checkpoints) == 0 {
				fmt.Fprintf(os.Stdout, "No checkpoints found.\n")
				return
			}
			for _, cp := range checkpoints {
				fmt.Fprintf(os.Stdout, "- ID: %s, After phase: %s, Created: %s\n",
					cp.ID, cp.AfterPhase, cp.CreatedAt.Format(time.RFC3339))
			}
		},
	}
	checkpointCmd.AddCommand(listCheckpointsCmd)

	rootCmd.AddCommand(templateCmd, projectCmd, runCmd, checkpointCmd)
}

func storeFromFlags(cmd *cobra.Command) *internal_storage.PostgresStore {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}

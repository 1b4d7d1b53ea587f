package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/corvohq/janitor/internal/store"
)

var clearCheckpoint string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the task catalog",
	RunE:  runList,
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Show checkpoint records, or clear one with --clear",
	RunE:  runCheckpoints,
}

func init() {
	listCmd.Flags().StringVar(&catalogFile, "catalog-file", "", "JSON catalog overrides file (chunk sizes, disabled tasks)")
	checkpointsCmd.Flags().StringVar(&dataDir, "data-dir", "data", "Directory for the janitor SQLite database")
	checkpointsCmd.Flags().StringVar(&clearCheckpoint, "clear", "", "Delete the checkpoint for this task name")
}

func runList(cmd *cobra.Command, args []string) error {
	reg, err := buildRegistry()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTIER\tCHUNK\tEXPERIMENTAL\tCONTINUE-ON-FAILURE")
	for _, d := range reg.All() {
		fmt.Fprintf(w, "%s\t%s\t%d-%d\t%v\t%v\n",
			d.Name, d.Tier, d.MinChunk, d.MaxChunk, d.Experimental, d.ContinueOnFailure)
	}
	return w.Flush()
}

func runCheckpoints(cmd *cobra.Command, args []string) error {
	db, err := store.Open(dataDir)
	if err != nil {
		return err
	}
	st := store.NewStore(db)
	defer st.Close()

	if clearCheckpoint != "" {
		if err := st.DeleteCheckpoint(clearCheckpoint); err != nil {
			return err
		}
		fmt.Printf("checkpoint %q cleared\n", clearCheckpoint)
		return nil
	}

	cps, err := st.ListCheckpoints()
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		fmt.Println("no checkpoints")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tUPDATED\tSTATE")
	for _, cp := range cps {
		fmt.Fprintf(w, "%s\t%s\t%s\n", cp.TaskName, cp.UpdatedAt, string(cp.State))
	}
	return w.Flush()
}

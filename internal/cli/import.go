package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talefold/talefold/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import stories into the corpus",
	Long:  "Import reads a JSON array of stories (with optional analysis blocks) and upserts them into the corpus database.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	var stories []store.Story
	if err := json.Unmarshal(data, &stories); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	imported, analyzed := 0, 0
	for i := range stories {
		s := &stories[i]
		if err := db.UpsertStory(s); err != nil {
			return fmt.Errorf("story %s: %w", s.ID, err)
		}
		imported++
		if s.Metadata != nil {
			if err := db.UpsertAnalysis(s.ID, s.Metadata); err != nil {
				return fmt.Errorf("analysis %s: %w", s.ID, err)
			}
			analyzed++
		}
	}

	total, err := db.CountStories()
	if err != nil {
		return err
	}
	fmt.Printf("imported %d stories (%d with analysis), corpus now %d\n", imported, analyzed, total)
	return nil
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bindery/bindery/internal/manifest"
	"github.com/bindery/bindery/internal/output"
)

// bookStatus is the per-book summary rendered by the status command.
type bookStatus struct {
	BookHash   string `json:"book_hash" yaml:"book_hash"`
	SourcePath string `json:"source_path" yaml:"source_path"`
	Mode       string `json:"mode" yaml:"mode"`
	Status     string `json:"status" yaml:"status"`
	NextStage  string `json:"next_stage" yaml:"next_stage"`
	RetryCount int    `json:"retry_count" yaml:"retry_count"`
	LastError  string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	UpdatedAt  string `json:"updated_at" yaml:"updated_at"`
}

var statusCmd = &cobra.Command{
	Use:   "status [book-hash]",
	Short: "Show manifest state for all books or one book",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := manifest.NewStore(cfg.ManifestDir)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			m, err := store.Read(args[0])
			if err != nil {
				return err
			}
			if m == nil {
				return fmt.Errorf("no manifest for %s", args[0])
			}
			return output.Print(m)
		}

		entries, err := os.ReadDir(cfg.ManifestDir)
		if err != nil {
			return err
		}

		var books []bookStatus
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.Contains(name, ".tmp.") {
				continue
			}
			hash := strings.TrimSuffix(filepath.Base(name), ".json")
			m, err := store.Read(hash)
			if err != nil || m == nil {
				continue
			}
			s := bookStatus{
				BookHash:   m.BookHash,
				SourcePath: m.SourcePath,
				Mode:       m.Mode,
				Status:     m.Status,
				NextStage:  m.NextPendingStage(),
				RetryCount: m.RetryCount,
				UpdatedAt:  m.UpdatedAt.Format("2006-01-02 15:04:05"),
			}
			if m.LastError != nil {
				s.LastError = fmt.Sprintf("%s: %s", m.LastError.Stage, m.LastError.Message)
			}
			books = append(books, s)
		}
		sort.Slice(books, func(i, j int) bool {
			return books[i].UpdatedAt > books[j].UpdatedAt
		})

		return output.Print(books)
	},
}

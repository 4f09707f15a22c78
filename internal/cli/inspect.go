package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"docsign/pkg/compositor"
	"docsign/pkg/pdfprobe"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Show page count and embedded images of a PDF",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var inspectTextPages int

func init() {
	inspectCmd.Flags().IntVar(&inspectTextPages, "text", 0, "Also print extracted text from the first N pages")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	probe, err := pdfprobe.ProbeBytes(data)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	info, err := compositor.Inspect(data)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}

	cmd.Printf("File: %s\n", args[0])
	cmd.Printf("Size: %d bytes\n", len(data))
	cmd.Printf("Pages: %d\n", info.Pages)
	if probe.PageCount != info.Pages {
		cmd.Printf("Warning: probe reports %d pages\n", probe.PageCount)
	}
	for i, n := range info.Images {
		if n > 0 {
			cmd.Printf("  page %d: %d image(s)\n", i, n)
		}
	}

	if inspectTextPages > 0 {
		text, err := pdfprobe.Text(bytes.NewReader(data), int64(len(data)), inspectTextPages)
		if err != nil {
			return fmt.Errorf("extract text: %w", err)
		}
		cmd.Println("Text:")
		cmd.Println(strings.TrimSpace(text))
	}
	return nil
}

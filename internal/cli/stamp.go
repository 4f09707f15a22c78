package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docsign/pkg/compositor"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

var stampCmd = &cobra.Command{
	Use:   "stamp",
	Short: "Composite a signature image onto a local PDF",
	Long: `Runs the signature compositor against local files. The signature may be a
PNG file or a text file holding a base64 data URI as sent by the web app.`,
	Args: cobra.NoArgs,
	RunE: runStamp,
}

var stampOpts struct {
	in        string
	signature string
	out       string
	page      int
	x, y      float64
	scale     float64
}

func init() {
	f := stampCmd.Flags()
	f.StringVar(&stampOpts.in, "in", "", "Source PDF")
	f.StringVar(&stampOpts.signature, "signature", "", "Signature PNG or data URI file")
	f.StringVar(&stampOpts.out, "out", "", "Where to write the signed PDF")
	f.IntVar(&stampOpts.page, "page", compositor.LastPage, "Zero-based page index, -1 for the last page")
	f.Float64Var(&stampOpts.x, "x", 0, "Horizontal offset in points from the left edge")
	f.Float64Var(&stampOpts.y, "y", 0, "Vertical offset in points from the bottom edge")
	f.Float64Var(&stampOpts.scale, "scale", compositor.DefaultScale, "Points per signature pixel")
	_ = stampCmd.MarkFlagRequired("in")
	_ = stampCmd.MarkFlagRequired("signature")
	_ = stampCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(stampCmd)
}

func runStamp(cmd *cobra.Command, _ []string) error {
	src, err := os.ReadFile(stampOpts.in)
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	image, err := readSignature(stampOpts.signature)
	if err != nil {
		return err
	}
	c := compositor.New(compositor.Options{Scale: stampOpts.scale})
	res, err := c.Composite(src, compositor.Request{
		Image: image,
		Page:  stampOpts.page,
		X:     stampOpts.x,
		Y:     stampOpts.y,
	})
	if err != nil {
		return fmt.Errorf("composite: %w", err)
	}
	if err := os.WriteFile(stampOpts.out, res.PDF, 0o644); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	cmd.Printf("Signed page %d of %d (%gx%g pt) -> %s\n", res.Page+1, res.PageCount, res.Width, res.Height, stampOpts.out)
	return nil
}

func readSignature(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	if bytes.HasPrefix(raw, pngMagic) {
		return raw, nil
	}
	image, err := compositor.DecodeDataURI(string(raw))
	if err != nil {
		return nil, errors.New("signature must be a PNG file or a base64 data URI")
	}
	return image, nil
}

package main

import (
	"fmt"
	"image/png"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wudi/pagescan/filters"
	"github.com/wudi/pagescan/page"
)

func newAddCmd(a *app) *cobra.Command {
	var contour string
	cmd := &cobra.Command{
		Use:   "add <image>...",
		Short: "Add image files as new pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c *page.Contour
			if contour != "" {
				parsed, err := filters.ParseContour(contour)
				if err != nil {
					return err
				}
				c = &parsed
			}
			for _, path := range args {
				id, err := a.session.AddFile(cmd.Context(), path, c)
				if err != nil {
					return fmt.Errorf("failed to add %s: %w", path, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&contour, "contour", "", "document boundary as x1,y1,...,x4,y4 in 0..1 (default: detect)")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the pages of the session in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pages := a.session.Pages()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tID\tCOLOR\tROTATION\tCROP")
			for i, p := range pages {
				crop := "full"
				if !p.Original.Crop.Contour.IsFullFrame() {
					crop = "custom"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", i+1, p.ID, p.Original.Color, p.Original.Rotate.Degrees, crop)
			}
			return tw.Flush()
		},
	}
}

func newFilterCmd(a *app) *cobra.Command {
	var (
		colorName                       string
		brightness, sharpness, contrast int
		rotation, rotateBy              int
		contour                         string
		reset                           bool
	)
	cmd := &cobra.Command{
		Use:   "filter <page-id>",
		Short: "Change the crop, color or rotation of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			p, err := a.session.Edit(args[0], func(p page.Page) (page.Page, error) {
				if flags.Changed("color") {
					kind, ok := filters.ParseColorKind(colorName)
					if !ok {
						return p, fmt.Errorf("unknown color %q", colorName)
					}
					if kind != p.Original.Color.Kind() {
						p = p.WithColor(filters.NewColorFilterType(kind))
					}
				}
				if reset {
					p = p.WithColor(p.Original.Color.Reset(filters.AllParams))
				}
				var params filters.Params
				if flags.Changed("brightness") {
					params.Brightness = filters.Value(brightness)
				}
				if flags.Changed("sharpness") {
					params.Sharpness = filters.Value(sharpness)
				}
				if flags.Changed("contrast") {
					params.Contrast = filters.Value(contrast)
				}
				p = p.WithColor(p.Original.Color.Modify(params))
				if flags.Changed("rotate") {
					p = p.WithRotation(rotation)
				}
				if flags.Changed("rotate-by") {
					p = p.Rotated(rotateBy)
				}
				if flags.Changed("contour") {
					c, err := filters.ParseContour(contour)
					if err != nil {
						return p, err
					}
					p = p.WithCrop(c)
				}
				return p, nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s rotation=%d\n", p.ID, p.Original.Color, p.Original.Rotate.Degrees)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&colorName, "color", "", "color preset: none, magic-color, magic-text, color, grayscale, black-white")
	f.IntVar(&brightness, "brightness", 50, "brightness 0..100")
	f.IntVar(&sharpness, "sharpness", 50, "sharpness 0..100")
	f.IntVar(&contrast, "contrast", 50, "contrast 0..100")
	f.BoolVar(&reset, "reset", false, "reset color parameters to the preset defaults")
	f.IntVar(&rotation, "rotate", 0, "absolute clockwise rotation in degrees")
	f.IntVar(&rotateBy, "rotate-by", 0, "rotate clockwise by degrees relative to the current rotation")
	f.StringVar(&contour, "contour", "", "document boundary as x1,y1,...,x4,y4 in 0..1")
	return cmd
}

func newPreviewCmd(a *app) *cobra.Command {
	var (
		out   string
		types string
	)
	cmd := &cobra.Command{
		Use:   "preview <page-id>",
		Short: "Render a page through a subset of its filters into a PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := filters.AllFilters
			if types != "" {
				var err error
				if selected, err = filters.ParseFilterTypes(types); err != nil {
					return err
				}
			}
			img, ok := a.session.Repository().ReadOriginalWithFilters(args[0], selected...)
			if !ok {
				return fmt.Errorf("no preview for page %s", args[0])
			}
			if out == "" {
				out = args[0] + "-preview.png"
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := png.Encode(f, img); err != nil {
				f.Close()
				return fmt.Errorf("failed to write preview: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output PNG (default <page-id>-preview.png)")
	cmd.Flags().StringVar(&types, "filters", "", "comma separated subset of crop,color,rotate (default all)")
	return cmd
}

func newSwapCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "swap <page-id> <page-id>",
		Short: "Swap the positions of two pages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.session.Swap(args[0], args[1])
		},
	}
}

func newMoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "move <page-id> <position>",
		Short: "Move a page to a 1-based position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid position %q: %w", args[1], err)
			}
			return a.session.Move(args[0], pos-1)
		},
	}
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <page-id>...",
		Aliases: []string{"delete"},
		Short:   "Delete pages and their images",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := a.session.Delete(id); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newDiscardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "discard",
		Short: "Delete every page and the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.session.Discard()
		},
	}
}

// Package report draws block usage maps of an image.
package report

import (
	"bufio"
	"fmt"
	"image/color"
	"io"

	"github.com/fogleman/gg"
	"github.com/keks/simplefs"
	"github.com/keks/simplefs/blkfile"
)

// Palette maps block kinds to cell colors.
var Palette = map[simplefs.Kind]color.RGBA{
	simplefs.KindFree:      {R: 230, G: 230, B: 230, A: 255},
	simplefs.KindDirectory: {R: 70, G: 120, B: 220, A: 255},
	simplefs.KindFile:      {R: 60, G: 180, B: 90, A: 255},
	simplefs.KindData:      {R: 250, G: 160, B: 50, A: 255},
}

var kinds = []simplefs.Kind{
	simplefs.KindDirectory,
	simplefs.KindFile,
	simplefs.KindData,
	simplefs.KindFree,
}

// Options controls the layout of the map.
type Options struct {
	// Columns is the number of cells per row. Defaults to 32.
	Columns int

	// Cell is the edge length of a cell in pixels. Defaults to 16.
	Cell int

	// Title is drawn above the map.
	Title string
}

func (o Options) withDefaults() Options {
	if o.Columns <= 0 {
		o.Columns = 32
	}
	if o.Cell <= 0 {
		o.Cell = 16
	}
	if o.Title == "" {
		o.Title = "block map"
	}
	return o
}

const (
	margin       = 20
	headerHeight = 40
	legendHeight = 40
)

// cellOrigin returns the top left corner of the cell of block i.
func cellOrigin(i int, o Options) (int, int) {
	return margin + (i%o.Columns)*o.Cell, headerHeight + (i/o.Columns)*o.Cell
}

func readKinds(st *blkfile.Store) ([]simplefs.Kind, error) {
	ks := make([]simplefs.Kind, st.Count())
	for i := range ks {
		blk, err := st.ReadBlock(simplefs.BlockID(i))
		if err != nil {
			return nil, err
		}
		ks[i] = blk.Kind()
	}
	return ks, nil
}

// Render draws one cell per block of st, colored by kind, and writes the map
// to w as PNG.
func Render(st *blkfile.Store, w io.Writer, opts Options) error {
	opts = opts.withDefaults()

	ks, err := readKinds(st)
	if err != nil {
		return err
	}

	rows := (len(ks) + opts.Columns - 1) / opts.Columns
	width := 2*margin + opts.Columns*opts.Cell
	height := headerHeight + rows*opts.Cell + legendHeight + margin

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(fmt.Sprintf("%s (%d blocks)", opts.Title, len(ks)), float64(width)/2, headerHeight/2, 0.5, 0.5)

	counts := make(map[simplefs.Kind]int)
	for i, k := range ks {
		counts[k]++
		x, y := cellOrigin(i, opts)
		dc.SetColor(Palette[k])
		dc.DrawRectangle(float64(x), float64(y), float64(opts.Cell-1), float64(opts.Cell-1))
		dc.Fill()
	}

	y := float64(headerHeight + rows*opts.Cell + margin)
	x := float64(margin)
	step := float64(width-2*margin) / float64(len(kinds))
	for _, k := range kinds {
		dc.SetColor(Palette[k])
		dc.DrawRectangle(x, y, 12, 12)
		dc.Fill()

		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(fmt.Sprintf("%v %d", k, counts[k]), x+18, y+6, 0, 0.5)
		x += step
	}

	return dc.EncodePNG(w)
}

var glyphs = map[simplefs.Kind]byte{
	simplefs.KindFree:      '.',
	simplefs.KindDirectory: 'D',
	simplefs.KindFile:      'F',
	simplefs.KindData:      '#',
}

// WriteText writes the map as text, one character per block and
// opts.Columns blocks per line, followed by the usage counts.
func WriteText(st *blkfile.Store, w io.Writer, opts Options) error {
	opts = opts.withDefaults()

	ks, err := readKinds(st)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	counts := make(map[simplefs.Kind]int)
	for i, k := range ks {
		counts[k]++
		bw.WriteByte(glyphs[k])
		if (i+1)%opts.Columns == 0 || i == len(ks)-1 {
			bw.WriteByte('\n')
		}
	}

	fmt.Fprintln(bw)
	for _, k := range kinds {
		fmt.Fprintf(bw, "%c %-9v %d\n", glyphs[k], k, counts[k])
	}

	return bw.Flush()
}

// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hipheat renders a PNG heatmap of allocation size versus
// elapsed time from a database produced by hipdump, the way
// cmd/memheat renders a cache-miss heatmap from a perf.data profile,
// but to a raster image in the style of cmd/memanim rather than an
// SVG.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"math"
	"os"

	"github.com/aclements/go-moremath/scale"
	"github.com/aclements/go-moremath/vec"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/image/font/gofont/goregular"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("hipheat: ")

	var (
		flagDB     = flag.String("db", "", "read allocations from `db` (output of hipdump)")
		flagOut    = flag.String("o", "heat.png", "write heatmap to `file`")
		flagWidth  = flag.Int("w", 800, "image width in pixels")
		flagHeight = flag.Int("h", 400, "image height in pixels")
		flagBins   = flag.Int("bins", 50, "number of size bins")
	)
	flag.Parse()
	if *flagDB == "" || flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	rows, err := queryAllocations(*flagDB)
	if err != nil {
		log.Fatal(err)
	}
	if len(rows) == 0 {
		log.Fatal("no allocations found")
	}

	if err := render(rows, *flagOut, *flagWidth, *flagHeight, *flagBins); err != nil {
		log.Fatal(err)
	}
}

// allocRow is one row of the allocations table: the elapsed time of
// the allocation and its size. The deallocation time is not read.
type allocRow struct {
	allocAfter uint64
	size       float64
}

func queryAllocations(dbPath string) ([]allocRow, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("hipheat: opening database: %w", err)
	}
	defer db.Close()

	rs, err := db.Query("select alloc_after, size from allocations")
	if err != nil {
		return nil, fmt.Errorf("hipheat: querying allocations: %w", err)
	}
	defer rs.Close()

	var out []allocRow
	for rs.Next() {
		var r allocRow
		if err := rs.Scan(&r.allocAfter, &r.size); err != nil {
			return nil, fmt.Errorf("hipheat: scanning allocation row: %w", err)
		}
		if r.size <= 0 {
			continue // a log size scale can't place a zero-size allocation
		}
		out = append(out, r)
	}
	return out, rs.Err()
}

// render bins rows into a time-by-size grid, colors each cell by a
// log-scaled heat gradient, and writes the result as a PNG, with axis
// labels drawn the way cmd/memanim draws its panel labels.
func render(rows []allocRow, outPath string, width, height, bins int) error {
	minTime, maxTime := rows[0].allocAfter, rows[0].allocAfter
	minSize, maxSize := rows[0].size, rows[0].size
	for _, r := range rows {
		if r.allocAfter < minTime {
			minTime = r.allocAfter
		}
		if r.allocAfter > maxTime {
			maxTime = r.allocAfter
		}
		if r.size < minSize {
			minSize = r.size
		}
		if r.size > maxSize {
			maxSize = r.size
		}
	}
	if maxTime == minTime {
		maxTime = minTime + 1
	}

	sizeScale, err := scale.NewLog(minSize, maxSize, 10)
	if err != nil {
		return fmt.Errorf("hipheat: building size scale: %w", err)
	}
	sizeScale.Nice(scale.TickOptions{Max: 6})

	const labelHeight = 20
	const marginLeft = 48
	plotW, plotH := width-marginLeft, height-labelHeight

	counts := make([][]int, bins)
	for i := range counts {
		counts[i] = make([]int, plotW)
	}
	maxCount := 0
	for _, r := range rows {
		x := int(float64(r.allocAfter-minTime) / float64(maxTime-minTime) * float64(plotW-1))
		y := int(sizeScale.Map(r.size) * float64(bins-1))
		if x < 0 || x >= plotW || y < 0 || y >= bins {
			continue
		}
		counts[y][x]++
		if counts[y][x] > maxCount {
			maxCount = counts[y][x]
		}
	}
	if maxCount == 0 {
		maxCount = 1
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Over)

	for y := 0; y < bins; y++ {
		for x := 0; x < plotW; x++ {
			c := counts[y][x]
			if c == 0 {
				continue
			}
			heat := math.Log1p(float64(c)) / math.Log1p(float64(maxCount))
			// size bin 0 is the smallest size, drawn at the bottom
			py := labelHeight + plotH - 1 - (y*plotH)/bins
			img.SetNRGBA(marginLeft+x, py, heatColor(heat))
		}
	}

	if err := drawAxis(img, &sizeScale, marginLeft, labelHeight, plotH); err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("hipheat: creating output file: %w", err)
	}
	defer f.Close()
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(f, img); err != nil {
		return fmt.Errorf("hipheat: encoding PNG: %w", err)
	}
	return f.Close()
}

// heatColor maps a heat value in [0, 1] to a blue-to-red gradient, the
// Go translation of cmd/memheat's color ramp.
func heatColor(heat float64) color.NRGBA {
	if heat < 0 {
		heat = 0
	} else if heat > 1 {
		heat = 1
	}
	r := uint8(255 * heat)
	b := uint8(255 * (1 - heat))
	return color.NRGBA{R: r, G: 0, B: b, A: 255}
}

// drawAxis labels the major size ticks down the left margin, using
// freetype to rasterize text directly into img the way cmd/memanim
// draws its panel headers, rather than cmd/memheat's SVG text
// elements.
func drawAxis(img *image.NRGBA, sizeScale scale.Quantitative, marginLeft, top, plotH int) error {
	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return fmt.Errorf("hipheat: parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetFontSize(10)
	ctx.SetFont(font)
	ctx.SetSrc(image.Black)
	ctx.SetDst(img)
	ctx.SetClip(img.Bounds())

	major, _ := sizeScale.Ticks(scale.TickOptions{Max: 6})
	mapped := vec.Map(sizeScale.Map, major)
	for i, v := range mapped {
		y := top + plotH - 1 - int(v*float64(plotH))
		label := fmt.Sprintf("%d", int64(major[i]))
		if _, err := ctx.DrawString(label, freetype.Pt(2, y+4)); err != nil {
			return fmt.Errorf("hipheat: drawing axis label: %w", err)
		}
	}
	return nil
}

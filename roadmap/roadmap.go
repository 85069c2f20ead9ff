// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package roadmap stores an ordered waypoint sequence parsed from a textual
// source and derives cached centerline samples from it. Waypoint order is
// path order and defines the arc-length progression.
package roadmap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
)

// ErrMalformedRecord reports a record with a non-numeric field or fewer
// than two fields.
var ErrMalformedRecord = errors.New("roadmap: malformed record")

// Policy decides what ingestion does with a malformed record.
type Policy int

const (
	// AbortOnMalformed stops ingestion at the first malformed record and
	// returns no roadmap.
	AbortOnMalformed Policy = iota
	// SkipMalformed drops the malformed record and keeps ingesting.
	SkipMalformed
)

// Roadmap owns the waypoint sequence. Centerline products are derived once
// and cached; Append invalidates the cache.
type Roadmap struct {
	wps [][]float64

	cl *centerline
}

type centerline struct {
	x, y, phi []float64
	pts       []r2.Point
}

// Load ingests newline-delimited records of comma-separated numeric fields,
// minimally (x, y). No header row is assumed; blank lines are ignored.
func Load(r io.Reader, policy Policy) (*Roadmap, error) {
	rm := &Roadmap{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if err := rm.Append(text); err != nil {
			if policy == SkipMalformed {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rm, nil
}

// LoadFile ingests a roadmap file via Load.
func LoadFile(path string, policy Policy) (*Roadmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roadmap: %w", err)
	}
	defer f.Close()
	return Load(f, policy)
}

// Append parses one record and appends the waypoint. The sequence is not
// deduplicated or reordered.
func (rm *Roadmap) Append(record string) error {
	fields := strings.Split(record, ",")
	wp := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return fmt.Errorf("%w: field %q", ErrMalformedRecord, f)
		}
		wp = append(wp, v)
	}
	if len(wp) < 2 {
		return fmt.Errorf("%w: need at least x,y got %d fields", ErrMalformedRecord, len(wp))
	}
	rm.wps = append(rm.wps, wp)
	rm.cl = nil
	return nil
}

// Len returns the waypoint count.
func (rm *Roadmap) Len() int { return len(rm.wps) }

// Waypoint returns the raw fields of waypoint i.
func (rm *Roadmap) Waypoint(i int) []float64 { return rm.wps[i] }

func (rm *Roadmap) derive() *centerline {
	if rm.cl != nil {
		return rm.cl
	}
	n := len(rm.wps)
	cl := &centerline{
		x:   make([]float64, n),
		y:   make([]float64, n),
		pts: make([]r2.Point, n),
	}
	for i, wp := range rm.wps {
		cl.x[i], cl.y[i] = wp[0], wp[1]
		cl.pts[i] = r2.Point{X: wp[0], Y: wp[1]}
	}
	if n > 1 {
		// Segment heading: phi[i] points from waypoint i to i+1,
		// so len(phi) == len(waypoints) - 1.
		cl.phi = make([]float64, n-1)
		for i := 0; i < n-1; i++ {
			cl.phi[i] = math.Atan2(cl.y[i+1]-cl.y[i], cl.x[i+1]-cl.x[i])
		}
	}
	rm.cl = cl
	return cl
}

// X returns the cached centerline x samples.
func (rm *Roadmap) X() []float64 { return rm.derive().x }

// Y returns the cached centerline y samples.
func (rm *Roadmap) Y() []float64 { return rm.derive().y }

// Phi returns the cached segment headings; its length is Len()-1.
func (rm *Roadmap) Phi() []float64 { return rm.derive().phi }

// Point returns centerline sample i.
func (rm *Roadmap) Point(i int) r2.Point { return rm.derive().pts[i] }

// Nearest returns the index of the centerline sample closest to p.
// It returns -1 for an empty roadmap.
func (rm *Roadmap) Nearest(p r2.Point) int {
	best, dist := -1, math.Inf(1)
	for i, q := range rm.derive().pts {
		if d := q.Sub(p).Norm(); d < dist {
			best, dist = i, d
		}
	}
	return best
}

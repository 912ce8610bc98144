// Package snapdiff measures the structural difference between two UI
// snapshots. The magnitude feeds verification correlation: a window whose
// snapshots differ sharply while no high-priority event was recorded is a
// suspect window.
package snapdiff

import (
	"bytes"
	"fmt"

	"golang.org/x/net/html"
)

// Histogram counts element occurrences keyed by "parent>tag". The parent
// qualifier keeps the measure sensitive to structural moves, not just tag
// totals.
func Histogram(data []byte) (map[string]int, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("snapdiff: parse: %w", err)
	}

	hist := make(map[string]int)
	var walk func(n *html.Node, parent string)
	walk = func(n *html.Node, parent string) {
		tag := parent
		if n.Type == html.ElementNode {
			key := n.Data
			if parent != "" {
				key = parent + ">" + n.Data
			}
			hist[key]++
			tag = n.Data
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, tag)
		}
	}
	walk(doc, "")
	return hist, nil
}

// Magnitude returns the relative structural difference between two snapshots
// in [0,1]: 0 means structurally identical, 1 means no shared structure.
// Deterministic for identical inputs.
func Magnitude(a, b []byte) (float64, error) {
	ha, err := Histogram(a)
	if err != nil {
		return 0, err
	}
	hb, err := Histogram(b)
	if err != nil {
		return 0, err
	}
	return histDistance(ha, hb), nil
}

func histDistance(a, b map[string]int) float64 {
	var totalA, totalB, diff int
	for k, n := range a {
		totalA += n
		d := n - b[k]
		if d < 0 {
			d = -d
		}
		diff += d
	}
	for k, n := range b {
		totalB += n
		if _, ok := a[k]; !ok {
			diff += n
		}
	}

	max := totalA
	if totalB > max {
		max = totalB
	}
	if max == 0 {
		return 0
	}
	m := float64(diff) / float64(max)
	if m > 1 {
		m = 1
	}
	return m
}

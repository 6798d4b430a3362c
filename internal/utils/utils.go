package utils

import (
	"fmt"
	"slices"
)

func ShortenString(s string, l int) string {
	if len(s) > l && l != 0 {
		return fmt.Sprintf("%s...", s[:l])
	}
	return s
}

// SortedSet returns the distinct elements of s in ascending order.
func SortedSet(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return slices.Compact(out)
}

// Intersect returns the sorted elements present in both a and b.
func Intersect(a, b []string) []string {
	out := []string{}
	for _, e := range SortedSet(a) {
		if slices.Contains(b, e) {
			out = append(out, e)
		}
	}
	return out
}

// Difference returns the sorted elements of a that are not in b.
func Difference(a, b []string) []string {
	out := []string{}
	for _, e := range SortedSet(a) {
		if !slices.Contains(b, e) {
			out = append(out, e)
		}
	}
	return out
}

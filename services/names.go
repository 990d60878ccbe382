package services

import (
	"strings"

	"golang.org/x/text/cases"
)

// animalKey folds an animal name for case-insensitive matching.
// cases.Caser is stateful, so a fresh one is built per call.
func animalKey(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

package cli

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/juju/errors"
	"github.com/manifoldco/promptui"
)

// PromptSnapshots lets the user pick one of the given snapshot names, newest first.
func PromptSnapshots(names []string) (string, error) {
	switch len(names) {
	case 0:
		return "", errors.NotFoundf("snapshots")
	case 1:
		return names[0], nil
	}

	sorted := slices.Clone(names)
	slices.Sort(sorted)
	slices.Reverse(sorted)

	size := len(sorted)
	if size >= 10 {
		size = 10
	}

	selector := promptui.Select{
		Label:             "Select the snapshot to restore",
		Items:             sorted,
		Searcher:          snapshotSearcher(sorted),
		StartInSearchMode: true,
		HideSelected:      true,
		Size:              size,
		Templates: &promptui.SelectTemplates{
			Active:   fmt.Sprintf("%s {{ . | cyan }}", promptui.IconSelect),
			Inactive: " {{ . }}",
			Selected: "{{ . }}",
		},
	}
	// keep stdout clean for whatever the command prints
	selector.Stdout = os.Stderr

	index, _, err := selector.Run()
	if err != nil {
		return "", errors.Annotate(err, "selecting snapshot")
	}
	return sorted[index], nil
}

func snapshotSearcher(names []string) func(string, int) bool {
	return func(input string, idx int) bool {
		return strings.Contains(strings.ToLower(names[idx]), strings.ToLower(input))
	}
}

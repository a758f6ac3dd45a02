package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jacklau/issuesla/internal/config"
	"github.com/jacklau/issuesla/internal/github"
)

// resolveRepos determines which repos to act on: explicit args win,
// otherwise every repo in the config file.
func resolveRepos(args []string, cfg *config.Config) ([]string, error) {
	if len(args) > 0 {
		for _, arg := range args {
			if _, _, err := github.SplitRepo(arg); err != nil {
				return nil, err
			}
		}
		return args, nil
	}

	var repos []string
	for _, rc := range cfg.Repos {
		if rc.Name != "" {
			repos = append(repos, rc.Name)
		}
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("no repos specified and none configured; provide repos as arguments or add them to the config file")
	}
	return repos, nil
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

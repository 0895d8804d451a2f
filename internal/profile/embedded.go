package profile

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"
)

//go:embed profiles/*.yaml
var embeddedProfiles embed.FS

var starterSummaries = map[string]string{
	"ruby26":     "legacy Ruby 2.6 toolchain (the stock default)",
	"ruby26-xml": "Ruby 2.6 plus libxml2/libxslt headers",
	"ruby27":     "Ruby 2.7 toolchain",
	"ruby30":     "Ruby 3.0 toolchain",
	"ruby32":     "Ruby 3.2 toolchain",
}

// Starter is a built-in profile shipped with the binary. Operators can pick
// one with --profile or seed an editable file from it with init-config.
type Starter struct {
	Name    string
	Summary string
	Profile Profile
}

var (
	startersOnce sync.Once
	starters     []Starter
	startersErr  error
)

func loadStarters() ([]Starter, error) {
	startersOnce.Do(func() {
		entries, err := embeddedProfiles.ReadDir("profiles")
		if err != nil {
			startersErr = fmt.Errorf("read built-in profiles: %w", err)
			return
		}

		for _, entry := range entries {
			data, err := embeddedProfiles.ReadFile(path.Join("profiles", entry.Name()))
			if err != nil {
				startersErr = fmt.Errorf("read built-in profile %s: %w", entry.Name(), err)
				return
			}

			prof, err := Parse(data)
			if err != nil {
				startersErr = fmt.Errorf("built-in profile %s: %w", entry.Name(), err)
				return
			}

			name := strings.TrimSuffix(entry.Name(), ".yaml")
			starters = append(starters, Starter{
				Name:    name,
				Summary: starterSummaries[name],
				Profile: prof,
			})
		}
	})
	return starters, startersErr
}

// Starters lists the built-in profiles in name order.
func Starters() ([]Starter, error) {
	all, err := loadStarters()
	if err != nil {
		return nil, err
	}

	out := make([]Starter, len(all))
	copy(out, all)
	return out, nil
}

// Lookup returns the built-in profile with the given name.
func Lookup(name string) (Profile, error) {
	all, err := loadStarters()
	if err != nil {
		return Profile{}, err
	}

	for _, starter := range all {
		if starter.Name == name {
			return starter.Profile, nil
		}
	}
	return Profile{}, fmt.Errorf("unknown built-in profile %q", name)
}

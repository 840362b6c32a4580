// Package confkit holds the config plumbing shared by the service and its tools:
// dotenv loading, path resolution and split config files.
package confkit

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath expands environment variables and a leading "~" in file, then
// joins relative results onto base.
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(strings.TrimSpace(file))
	if file == "~" || strings.HasPrefix(file, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			file = filepath.Join(home, strings.TrimPrefix(file, "~"))
		}
	}
	if file == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// Section is a block of the main config that lives in its own file, e.g.
//
//	Market:
//	  File: market.yaml
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate loads File relative to base. An empty File leaves the section unset.
// On success File holds the resolved path.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if strings.TrimSpace(s.File) == "" {
		return nil
	}
	p := ResolvePath(base, s.File)
	v, err := loader(p)
	if err != nil {
		return err
	}
	s.File, s.Value = p, v
	return nil
}

// Loaded reports whether the section carries a value.
func (s Section[T]) Loaded() bool {
	return s.Value != nil
}

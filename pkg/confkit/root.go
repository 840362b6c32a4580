package confkit

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const maxWalkDepth = 8

// ProjectRoot walks up from this source file to the directory holding go.mod
// or .git, falling back to the working directory.
func ProjectRoot() (string, error) {
	if _, file, _, ok := runtime.Caller(0); ok {
		if root, found := findRoot(filepath.Dir(file)); found {
			return root, nil
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return ".", fmt.Errorf("getwd: %w", err)
	}
	return wd, nil
}

// ProjectPath joins the project root with rel.
func ProjectPath(rel string) (string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, rel), nil
}

// MustProjectPath is ProjectPath that panics on failure.
func MustProjectPath(rel string) string {
	p, err := ProjectPath(rel)
	if err != nil {
		panic(err)
	}
	return p
}

// walkUp calls visit for dir and each parent until visit returns true or the
// depth limit is hit. It returns the directory visit stopped at.
func walkUp(dir string, visit func(dir string) bool) (string, bool) {
	for i := 0; i < maxWalkDepth; i++ {
		if visit(dir) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func findRoot(start string) (string, bool) {
	return walkUp(start, isRoot)
}

func isRoot(dir string) bool {
	return fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git"))
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

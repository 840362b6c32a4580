package confkit

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/zeromicro/go-zero/core/logx"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads .env files on first call.
//
//	NO_DOTENV=1        skip entirely
//	ENV_FILE=a,b       load exactly these files
//	DOTENV_OVERLOAD=1  let .env values replace variables already set
//
// Without ENV_FILE, .env files are collected from the working directory and
// from this package up to the project root; nearer files win.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}
	files := explicitEnvFiles(os.Getenv("ENV_FILE"))
	if files == nil {
		files = discoverEnvFiles()
	}
	if len(files) == 0 {
		return
	}
	var err error
	if os.Getenv("DOTENV_OVERLOAD") == "1" {
		// Overload applies files in order, so the nearest file goes last.
		reversed := make([]string, len(files))
		for i, f := range files {
			reversed[len(files)-1-i] = f
		}
		err = godotenv.Overload(reversed...)
	} else {
		err = godotenv.Load(files...)
	}
	if err != nil {
		logx.Errorf("dotenv: load %v: %v", files, err)
	}
}

func explicitEnvFiles(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var files []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}

func discoverEnvFiles() []string {
	var files []string
	seen := make(map[string]bool)
	collect := func(dir string) bool {
		p := filepath.Join(dir, ".env")
		if !seen[p] && fileExists(p) {
			seen[p] = true
			files = append(files, p)
		}
		return isRoot(dir)
	}
	if wd, err := os.Getwd(); err == nil {
		walkUp(wd, collect)
	}
	if _, file, _, ok := runtime.Caller(0); ok {
		walkUp(filepath.Dir(file), collect)
	}
	return files
}

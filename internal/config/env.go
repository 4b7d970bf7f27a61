package config

import (
	"os"

	"github.com/joho/godotenv"
)

// DefaultEnvFiles are searched in order; the first readable one wins
var DefaultEnvFiles = []string{
	".env",       // Current directory
	"../../.env", // From cmd/clickpay to project root
}

// Env resolves settings from a .env file first, then the process environment.
type Env struct {
	values map[string]string
	lookup func(string) (string, bool)
}

// LoadEnv reads the first .env file that exists. A missing file is not an
// error since containers usually pass plain environment variables.
func LoadEnv(files ...string) *Env {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	env := &Env{lookup: os.LookupEnv}
	for _, file := range files {
		values, err := godotenv.Read(file)
		if err == nil {
			env.values = values
			return env
		}
	}
	return env
}

// NewEnv builds an Env from explicit values with no process fallback
func NewEnv(values map[string]string) *Env {
	return &Env{
		values: values,
		lookup: func(string) (string, bool) { return "", false },
	}
}

// Get returns the value for key or def when unset or empty
func (e *Env) Get(key, def string) string {
	// First check our loaded .env values
	if val, ok := e.values[key]; ok && val != "" {
		return val
	}
	// Fallback to process environment variables (Docker, CI)
	if val, ok := e.lookup(key); ok && val != "" {
		return val
	}
	return def
}

// IsDev reports whether APP_ENV selects development mode
func (e *Env) IsDev() bool {
	return e.Get("APP_ENV", "prod") == "dev"
}

package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadEnv loads .env files into the process environment without overriding variables that
// are already set. With no files it reads ./.env. Missing files are ignored; variables can
// be set by other means.
func LoadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validate checks struct constraints and the values the tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}

	if strings.Contains(c.ThumbnailsDir, "..") {
		return fmt.Errorf("thumbnails_dir must stay inside media_dir: %q", c.ThumbnailsDir)
	}

	return nil
}

// isMissingFile reports whether err comes from an explicit config path that does not exist.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

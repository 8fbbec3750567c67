package schema

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

//go:embed schemas
var embeddedSchemas embed.FS

// LoadDefaultSchemas registers every schemas/<version>/<Action>.request.json
// and schemas/<version>/<Action>.response.json file into registry.
func LoadDefaultSchemas(registry *Registry) error {
	return fs.WalkDir(embeddedSchemas, "schemas", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(p, "schemas/")
		parts := strings.SplitN(rel, "/", 2)
		if len(parts) != 2 {
			return nil
		}
		version := parts[0]
		file := parts[1]

		base := path.Base(file)
		var action, kind string
		switch {
		case strings.HasSuffix(base, ".request.json"):
			action = strings.TrimSuffix(base, ".request.json")
			kind = "request"
		case strings.HasSuffix(base, ".response.json"):
			action = strings.TrimSuffix(base, ".response.json")
			kind = "response"
		default:
			return nil
		}

		raw, err := embeddedSchemas.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}

		switch kind {
		case "request":
			if err := registry.RegisterRequest(version, action, raw); err != nil {
				return err
			}
		case "response":
			if err := registry.RegisterResponse(version, action, raw); err != nil {
				return err
			}
		}
		return nil
	})
}

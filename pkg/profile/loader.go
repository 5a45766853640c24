package profile

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var profileSchema string

const schemaURL = "https://ucp.dev/schemas/profile.schema.json"

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(profileSchema)); err != nil {
		panic(fmt.Sprintf("profile schema load failed: %v", err))
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("profile schema compile failed: %v", err))
	}
	return compiled
}

// LoadBusiness reads a business profile from a YAML file, validates it
// against the embedded profile schema, and checks extension targets.
// The profile is immutable after load; a changed profile implies a
// process restart.
func LoadBusiness(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load business profile: %w", err)
	}
	return ParseBusiness(data)
}

// ParseBusiness parses and validates a YAML or JSON profile document.
func ParseBusiness(data []byte) (*Profile, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse business profile: %w", err)
	}
	doc = normalizeYAML(doc)

	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("business profile schema validation: %w", err)
	}

	// Round-trip through JSON so the struct tags apply uniformly to
	// YAML and JSON inputs.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode business profile: %w", err)
	}
	var p Profile
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode business profile: %w", err)
	}

	if p.UCP.Version == "" {
		p.UCP.Version = Version
	}
	if err := p.ValidateExtends(); err != nil {
		return nil, fmt.Errorf("business profile: %w", err)
	}
	return &p, nil
}

// normalizeYAML converts yaml.v3 map[any]any trees into the
// map[string]any form the schema validator and json encoder expect.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalizeYAML(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = normalizeYAML(val)
		}
		return s
	default:
		return v
	}
}

// ParsePlatform parses the UCP-Agent header value carrying the calling
// platform's claimed profile. Accepted forms:
//
//   - inline JSON ("{...}")
//   - base64-encoded JSON
//
// Any other value (including a bare profile URL, which this engine does
// not fetch) and the empty string yield nil, meaning "no platform
// profile supplied". The negotiator treats nil as a platform that
// mirrors the business's declarations, matching the reference demo
// where platform and business run in one process.
func ParsePlatform(header string) (*Profile, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	var raw []byte
	switch {
	case strings.HasPrefix(header, "{"):
		raw = []byte(header)
	default:
		decoded, err := base64.StdEncoding.DecodeString(header)
		if err != nil || !bytes.HasPrefix(bytes.TrimSpace(decoded), []byte("{")) {
			// Profile URL or free-form agent identifier; no inline profile.
			return nil, nil
		}
		raw = decoded
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse platform profile: %w", err)
	}
	if p.UCP.Version == "" {
		p.UCP.Version = Version
	}
	return &p, nil
}

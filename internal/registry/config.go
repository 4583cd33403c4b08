package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// ServerConfig describes a single MCP backend: which transport reaches it
// and the parameters that transport needs.
type ServerConfig struct {
	Transport      string            `json:"transport"` // "stdio" or "http"
	Command        []string          `json:"command,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	URL            string            `json:"url,omitempty"`
	HealthEndpoint string            `json:"health_endpoint,omitempty"`
}

type serverConfigFile struct {
	Servers map[string]ServerConfig `json:"servers"`
}

// LoadServerConfigs reads the MCP server catalog from a JSON file, returning
// both the catalog and the server names in the order they're declared in the
// file. A missing file yields an empty catalog rather than an error, since a
// fresh router deployment may add servers after first boot.
func LoadServerConfigs(path string) (map[string]ServerConfig, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ServerConfig{}, nil, nil
		}
		return nil, nil, fmt.Errorf("read server config %s: %w", path, err)
	}

	var file serverConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parse server config %s: %w", path, err)
	}
	if file.Servers == nil {
		file.Servers = map[string]ServerConfig{}
	}

	order, err := serverOrder(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse server config %s: %w", path, err)
	}
	return file.Servers, order, nil
}

// serverOrder walks the raw JSON token stream to recover the declaration
// order of the "servers" object's keys, since decoding straight into a map
// discards it.
func serverOrder(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok != json.Delim('{') {
		return nil, fmt.Errorf("expected a top-level JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		if key != "servers" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}

		objTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if objTok != json.Delim('{') {
			return nil, fmt.Errorf("\"servers\" must be an object")
		}

		var names []string
		for dec.More() {
			nameTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			name, _ := nameTok.(string)
			names = append(names, name)

			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
		}
		return names, nil
	}
	return nil, nil
}

package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

// applyConfigFile reads a TOML file whose keys are flag names and sets every
// flag that was not given on the command line. Unknown keys are an error.
//
//	socks5-listen = "127.0.0.1:1080"
//	upstream = "ss://aes-256-gcm:secret@203.0.113.5:8388"
//	dial-timeout = "5s"
//	proxy-protocol = true
func applyConfigFile(fs *pflag.FlagSet, path string) error {
	var values map[string]any
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		f := fs.Lookup(k)
		if f == nil || k == "config" {
			return fmt.Errorf("config %s: unknown key %q", path, k)
		}
		if f.Changed {
			continue
		}
		s, err := flagString(values[k])
		if err != nil {
			return fmt.Errorf("config %s: %s: %w", path, k, err)
		}
		if err := fs.Set(k, s); err != nil {
			return fmt.Errorf("config %s: %s: %w", path, k, err)
		}
	}
	return nil
}

func flagString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

package config

import (
	"fmt"

	berr "github.com/next-trace/scg-branch-host/contract/errors"

	"github.com/mitchellh/mapstructure"
)

var optionsDecodeHook = mapstructure.ComposeDecodeHookFunc(
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.StringToSliceHookFunc(","),
)

// DecodeOptions decodes a branch's free-form options into out, a pointer to a module
// specific struct tagged with `mapstructure`. Input is weakly typed so "5" fills an int;
// unknown keys are an error.
func DecodeOptions(in map[string]any, out any) error {
	cfg := &mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       optionsDecodeHook,
		ErrorUnused:      true,
		Result:           out,
		TagName:          "mapstructure",
	}

	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return fmt.Errorf("decode options: %w", err)
	}

	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decode options: %w: %w", berr.ErrInvalidConfig, err)
	}

	return nil
}

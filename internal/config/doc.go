// Package config loads service settings with viper: defaults first, then
// an optional config.yaml, then RESUMATE_* environment variables. Load
// validates the merged result with go-playground/validator before any
// component sees it.
package config

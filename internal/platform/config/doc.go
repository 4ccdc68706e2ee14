// Package config loads process configuration from the environment and an
// optional .env file.
package config

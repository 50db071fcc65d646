// Package config loads parley configuration from YAML.
//
// Configuration covers the database path, the agent templates file, logging,
// and the streaming-persistence tunables (flush interval and character
// threshold). Values like ${HOME} are expanded from the environment before
// parsing.
package config

// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation. A .env file in the working directory is loaded first if
// present. After the file is parsed, ETRON_* environment variables override
// individual fields, e.g. ETRON_SERVER_ADDR or ETRON_AUTH_SECRET.
package config

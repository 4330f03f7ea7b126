// apitoken prints a bearer token for the admin and regional APIs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/eyalp7/SyncSphere/config"
	"github.com/eyalp7/SyncSphere/internal/api/middleware"
)

func main() {
	cfgPath := pflag.StringP("config", "c", "", "config file")
	userID := pflag.Int64P("user", "u", 0, "user id placed in the token subject")
	ttl := pflag.Duration("ttl", 0, "token lifetime (default jwt.ttl)")
	pflag.Parse()

	path := *cfgPath
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "_CONFIG")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "--user must be a positive id")
		os.Exit(2)
	}
	lifetime := cfg.JWT.TTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	token, err := middleware.IssueToken(cfg.JWT.Secret, *userID, lifetime)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}

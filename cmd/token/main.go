/*
main.go - Development token issuer

PURPOSE:
  Prints a signed bearer token for a principal so the API can be exercised
  from curl or the UI without an identity provider.

EXAMPLES:
  ./token -id sup-wanjiku -role supervisor -hub hub-nairobi
  ./token -id admin-1 -role admin -ttl 1h

  curl -H "Authorization: Bearer $(./token -id admin-1 -role admin)" \
       localhost:8080/api/schools

The secret comes from -secret, or the same configuration the server reads.
*/
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/shamiri/attendance-engine/auth"
	"github.com/shamiri/attendance-engine/config"
)

func main() {
	id := flag.String("id", "", "Principal id (required)")
	role := flag.String("role", string(auth.RoleSupervisor), "admin | hub-coordinator | supervisor | clinical-lead | fellow")
	hub := flag.String("hub", "", "Hub id")
	secret := flag.String("secret", "", "Signing secret (defaults to ATTENDANCE_JWT_SECRET)")
	ttl := flag.Duration("ttl", 0, "Token lifetime (defaults to ATTENDANCE_JWT_TTL)")
	envFile := flag.String("env-file", ".env", "Optional .env file")
	flag.Parse()

	if *id == "" {
		log.Fatal("-id is required")
	}

	conf, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *secret == "" {
		*secret = conf.JWTSecret
	}
	if *ttl == 0 {
		*ttl = conf.JWTTTL
	}

	token, err := auth.NewTokens(*secret, *ttl).Issue(auth.Principal{
		ID:    *id,
		Role:  auth.Role(*role),
		HubID: *hub,
	})
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}

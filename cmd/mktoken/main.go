// mktoken mints an access token for local development, so a websocket client
// can join a canvas without going through the platform's auth service.
//
// Usage: mktoken -user u1 -name Alice [-email alice@example.com]
package main

import (
	"flag"
	"fmt"
	"log"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/config"
)

func main() {
	userID := flag.String("user", "", "user id to embed in the token")
	name := flag.String("name", "", "display name")
	email := flag.String("email", "", "email address")
	avatar := flag.String("avatar", "", "avatar URL")
	flag.Parse()

	if *userID == "" || *name == "" {
		log.Fatal("both -user and -name are required")
	}

	cfg := config.Load()
	manager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	token, err := manager.GenerateAccessToken(*userID, *email, *name, *avatar)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}

	fmt.Println(token)
}

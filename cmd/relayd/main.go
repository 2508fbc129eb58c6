package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"teleview/internal/invite"
	"teleview/internal/relay"
)

func main() {
	usersPath := flag.String("users", "users.json", "token-to-user table (JSON)")
	flag.Parse()

	directory, err := loadDirectory(*usersPath)
	if err != nil {
		log.Fatalf("failed to load user directory: %v", err)
	}

	srv, err := relay.New(relay.LoadConfig(), directory)
	if err != nil {
		log.Fatalf("failed to init relay: %v", err)
	}
	defer srv.Close()

	if err := srv.Run(); err != nil {
		log.Fatalf("relay exited: %v", err)
	}
}

func loadDirectory(path string) (relay.StaticDirectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var directory map[string]invite.User
	if err := json.Unmarshal(raw, &directory); err != nil {
		return nil, err
	}
	return relay.StaticDirectory(directory), nil
}

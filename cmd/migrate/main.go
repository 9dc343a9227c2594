// migrate applies the embedded schema.
//
//	go run ./cmd/migrate -direction up
//	go run ./cmd/migrate -steps -1
//	go run ./cmd/migrate -version
package main

import (
	"flag"
	"log"

	"site-scheduler/backend/internal/config"
	"site-scheduler/backend/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "migrate all the way: up or down")
	steps := flag.Int("steps", 0, "apply n migrations instead (negative rolls back)")
	version := flag.Bool("version", false, "print the applied version and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	switch {
	case *version:
		v, dirty, ok, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		if !ok {
			log.Println("migrate: no migrations applied")
			return
		}
		log.Printf("migrate: version=%d dirty=%v", v, dirty)
	case *steps != 0:
		if err := migrate.Steps(cfg.DatabaseURL, *steps); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	default:
		dir, err := migrate.ParseDirection(*direction)
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		if err := migrate.Run(cfg.DatabaseURL, dir); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}
}

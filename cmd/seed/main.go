// seed inserts development sample data for local runs of the session agent.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"site-scheduler/backend/internal/config"
	"site-scheduler/backend/internal/db"
	"site-scheduler/backend/internal/identity/provider"
	loginrepo "site-scheduler/backend/internal/identity/repository"
	membershipdomain "site-scheduler/backend/internal/membership/domain"
	membershiprepo "site-scheduler/backend/internal/membership/repository"
	orgdomain "site-scheduler/backend/internal/organization/domain"
	orgrepo "site-scheduler/backend/internal/organization/repository"
	policydomain "site-scheduler/backend/internal/policy/domain"
	policyrepo "site-scheduler/backend/internal/policy/repository"
	"site-scheduler/backend/internal/security"
	sessionrepo "site-scheduler/backend/internal/session/repository"
	userrepo "site-scheduler/backend/internal/user/repository"
)

// viewerCanManagePolicy lets viewers manage schedules in the sandbox org, so the
// policy override path is exercised locally.
const viewerCanManagePolicy = `package ssched.permissions

default is_owner := false
default is_manager := false
default is_viewer := false

is_owner if input.role == "owner"

is_manager if input.role == "manager"

is_viewer if input.role == "viewer"

decision := {
	"is_owner": is_owner,
	"is_manager": is_manager,
	"is_viewer": is_viewer,
	"can_manage": true,
}
`

const (
	devUserEmail = "dev@example.com"
	memberEmail  = "member@example.com"
	devPassword  = "Scaffold-Crew-42"
)

type seedOrg struct {
	name  string
	role  membershipdomain.Role
	order int
}

// The dev user's second org sorts first, so a fresh sign-in selects it.
var devOrgs = []seedOrg{
	{name: "Harbour Site", role: membershipdomain.RoleManager, order: 2},
	{name: "North Yard", role: membershipdomain.RoleOwner, order: 1},
	{name: "Sandbox", role: membershipdomain.RoleViewer, order: 3},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	orgs := orgrepo.NewPostgresRepository(conn)
	memberships := membershiprepo.NewPostgresRepository(conn)
	policies := policyrepo.NewPostgresRepository(conn)

	existing, err := users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (dev@example.com exists). Skipping.")
		os.Exit(0)
	}

	// Register only needs the user and login repositories and the hasher.
	local := provider.NewLocalProvider(users, loginrepo.NewPostgresRepository(conn), sessionrepo.NewPostgresRepository(conn),
		nil, security.NewHasher(cfg.BcryptCost), &provider.MemoryCredentialStore{}, provider.Config{})
	defer local.Close()

	dev, err := local.Register(ctx, devUserEmail, devPassword, "Dev User")
	if err != nil {
		log.Fatalf("create dev user: %v", err)
	}
	member, err := local.Register(ctx, memberEmail, devPassword, "Member User")
	if err != nil {
		log.Fatalf("create member user: %v", err)
	}

	now := time.Now().UTC()
	var sandboxID string
	for i, so := range devOrgs {
		created := now.Add(time.Duration(i) * time.Second)
		// Orgs survive a user wipe; reuse them so reseeding does not duplicate names.
		org, err := orgs.GetByName(ctx, so.name)
		if err != nil {
			log.Fatalf("lookup org %s: %v", so.name, err)
		}
		if org == nil {
			org = &orgdomain.Org{ID: uuid.New().String(), Name: so.name, CreatedAt: created}
			if err := org.Validate(); err != nil {
				log.Fatalf("org %s: %v", so.name, err)
			}
			if err := orgs.Create(ctx, org); err != nil {
				log.Fatalf("create org %s: %v", so.name, err)
			}
		}
		m := &membershipdomain.Membership{
			ID: uuid.New().String(), UserID: dev.ID, OrgID: org.ID,
			Role: so.role, DisplayOrder: so.order, CreatedAt: created,
		}
		if err := memberships.CreateMembership(ctx, m); err != nil {
			log.Fatalf("create dev membership in %s: %v", so.name, err)
		}
		if so.name == "Sandbox" {
			sandboxID = org.ID
		}
		if so.name != "North Yard" {
			continue
		}
		mm := &membershipdomain.Membership{
			ID: uuid.New().String(), UserID: member.ID, OrgID: org.ID,
			Role: membershipdomain.RoleViewer, DisplayOrder: 1, CreatedAt: created,
		}
		if err := memberships.CreateMembership(ctx, mm); err != nil {
			log.Fatalf("create member membership: %v", err)
		}
	}

	p := &policydomain.Policy{ID: uuid.New().String(), OrgID: sandboxID, Rules: viewerCanManagePolicy, Enabled: true, CreatedAt: now}
	if err := p.Validate(); err != nil {
		log.Fatalf("policy: %v", err)
	}
	if err := policies.Create(ctx, p); err != nil {
		log.Fatalf("create policy: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s / %s\n", devUserEmail, devPassword)
	fmt.Printf("Member login: %s / %s\n", memberEmail, devPassword)
}

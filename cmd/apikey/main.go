// Command apikey creates a user if needed and prints a fresh API key.
//
//	go run ./cmd/apikey -email pilot@valley.test -name "Valley Aerial"
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SprayOps/app/models"
	"github.com/ManuelReschke/SprayOps/app/repository"
	"github.com/ManuelReschke/SprayOps/internal/pkg/database"
	"github.com/ManuelReschke/SprayOps/internal/pkg/env"
)

func main() {
	email := flag.String("email", "", "email of the user")
	name := flag.String("name", "", "display name, used when the user is created")
	admin := flag.Bool("admin", false, "grant the admin role")
	flag.Parse()

	if *email == "" {
		flag.Usage()
		os.Exit(2)
	}

	env.SetupEnvFile()
	database.SetupDatabase()
	users := repository.NewRepositories(database.GetDB()).User

	raw, user, err := issueKey(users, *email, *name, *admin)
	if err != nil {
		log.Fatalf("[Auth] %v", err)
	}
	fmt.Printf("user:   %d (%s)\n", user.ID, user.Email)
	fmt.Printf("role:   %s\n", user.Role)
	fmt.Printf("apikey: %s\n", raw)
	fmt.Println("The key is shown only once.")
}

func issueKey(users repository.UserRepository, email, name string, admin bool) (string, *models.User, error) {
	user, err := users.GetByEmail(models.NormalizeEmail(email))
	created := false
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if name == "" {
			name = email
		}
		user, err = models.CreateUser(name, email)
		if err != nil {
			return "", nil, fmt.Errorf("invalid user: %w", err)
		}
		created = true
	case err != nil:
		return "", nil, fmt.Errorf("lookup user: %w", err)
	}

	if admin {
		user.Role = models.ROLE_ADMIN
	}
	raw, err := user.IssueAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}

	if created {
		err = users.Create(user)
	} else {
		err = users.Update(user)
	}
	if err != nil {
		return "", nil, fmt.Errorf("save user: %w", err)
	}
	return raw, user, nil
}

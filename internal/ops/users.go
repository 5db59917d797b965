package ops

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hpungsan/medcase/internal/clinical"
	"github.com/hpungsan/medcase/internal/db"
	"github.com/hpungsan/medcase/internal/errors"
)

// Account limits
const (
	MaxUsernameChars = 150
	MinPasswordChars = 8
	maxPasswordBytes = 72 // bcrypt ignores anything beyond this
)

const (
	invalidLoginMsg   = "Nieprawidłowa nazwa użytkownika lub hasło."
	passwordMismatch  = "Hasła nie są identyczne."
	usernameTakenMsg  = "Użytkownik o tej nazwie już istnieje."
	usernameFormatMsg = "Nazwa użytkownika może zawierać tylko litery, cyfry i znaki @/./+/-/_."
)

var usernameRegex = regexp.MustCompile(`^[\p{L}\p{N}@.+\-_]+$`)

// RegisterInput contains parameters for the Register operation.
type RegisterInput struct {
	Username string
	Password string
	Confirm  string
}

// UserOutput identifies an account.
type UserOutput struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Register creates an account with a bcrypt password hash. Messages are
// user-facing.
func Register(ctx context.Context, database *sql.DB, input RegisterInput) (*UserOutput, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, errors.NewInvalidRequest("Podaj nazwę użytkownika.")
	}
	if clinical.CountChars(username) > MaxUsernameChars {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("Nazwa użytkownika może mieć najwyżej %d znaków.", MaxUsernameChars))
	}
	if !usernameRegex.MatchString(username) {
		return nil, errors.NewInvalidRequest(usernameFormatMsg)
	}
	if clinical.CountChars(input.Password) < MinPasswordChars {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("Hasło musi mieć co najmniej %d znaków.", MinPasswordChars))
	}
	if len(input.Password) > maxPasswordBytes {
		return nil, errors.NewInvalidRequest("Hasło jest za długie.")
	}
	if input.Password != input.Confirm {
		return nil, errors.NewInvalidRequest(passwordMismatch)
	}

	norm := clinical.Normalize(username)
	if _, err := db.GetUserByUsername(ctx, database, norm); err == nil {
		return nil, usernameTaken(username)
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	u := &clinical.User{
		ID:           id,
		Username:     username,
		UsernameNorm: norm,
		PasswordHash: string(hash),
		CreatedAt:    db.Now(),
	}
	if err := db.InsertUser(ctx, database, u); err != nil {
		if err == db.ErrUniqueConstraint {
			return nil, usernameTaken(username)
		}
		return nil, err
	}
	return &UserOutput{ID: u.ID, Username: u.Username}, nil
}

// Authenticate checks credentials. Unknown users and wrong passwords fail
// the same way.
func Authenticate(ctx context.Context, database *sql.DB, username, password string) (*UserOutput, error) {
	norm := clinical.Normalize(username)
	if norm == "" || password == "" {
		return nil, errors.NewUnauthorized(invalidLoginMsg)
	}
	u, err := db.GetUserByUsername(ctx, database, norm)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewUnauthorized(invalidLoginMsg)
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errors.NewUnauthorized(invalidLoginMsg)
	}
	return &UserOutput{ID: u.ID, Username: u.Username}, nil
}

// GetUser returns the account behind a session's user ID.
func GetUser(ctx context.Context, database *sql.DB, id string) (*UserOutput, error) {
	u, err := db.GetUserByID(ctx, database, id)
	if err != nil {
		return nil, err
	}
	return &UserOutput{ID: u.ID, Username: u.Username}, nil
}

func usernameTaken(username string) error {
	e := errors.NewNameAlreadyExists("user", username)
	e.Message = usernameTakenMsg
	return e
}

// Package directory keeps the employee accounts that may sign in.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNotFound indicates no employee has the requested id.
	ErrNotFound = errors.New("employee not found")

	// ErrExists indicates the employee id is already registered.
	ErrExists = errors.New("employee id already registered")

	// ErrNoIDsAvailable indicates every id up to the configured maximum is
	// taken.
	ErrNoIDsAvailable = errors.New("no more employee ids available")
)

// Employee is a registered account. The employee id doubles as the name of
// the employee's top-level folder.
type Employee struct {
	EmployeeID   string    `json:"employeeId"`
	Name         string    `json:"name"`
	Department   string    `json:"department"`
	PasswordHash string    `json:"-"`
	Admin        bool      `json:"admin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store persists employees.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Store interface {
	// Get returns the employee with the given id, or ErrNotFound.
	Get(ctx context.Context, employeeID string) (*Employee, error)

	// Create registers e. It fails with ErrExists if the id is taken.
	// CreatedAt and UpdatedAt are set by the store when zero.
	Create(ctx context.Context, e *Employee) error

	// List returns all employees ordered by employee id.
	List(ctx context.Context) ([]*Employee, error)

	Close() error
}

// bcryptCost matches the work factor accounts were originally hashed with.
const bcryptCost = 10

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// FormatID renders the n-th employee id, e.g. FormatID("3S", 3, 7) = "3S007".
func FormatID(prefix string, width, n int) string {
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}

// NextEmployeeID returns the lowest unused id of the form prefix + n
// zero-padded to width digits, for n in [1, max]. It returns
// ErrNoIDsAvailable when all of them are registered.
func NextEmployeeID(ctx context.Context, store Store, prefix string, width, max int) (string, error) {
	employees, err := store.List(ctx)
	if err != nil {
		return "", err
	}

	taken := make(map[string]struct{}, len(employees))
	for _, e := range employees {
		taken[e.EmployeeID] = struct{}{}
	}

	for n := 1; n <= max; n++ {
		id := FormatID(prefix, width, n)
		if _, ok := taken[id]; !ok {
			return id, nil
		}
	}
	return "", ErrNoIDsAvailable
}
